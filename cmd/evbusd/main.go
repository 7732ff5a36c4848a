package main

import (
	"context"
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/evbus/pkg/env"
	fx "github.com/robotalks/evbus/pkg/framework"
	"github.com/robotalks/evbus/pkg/iface"
	"github.com/robotalks/evbus/pkg/protocol/packet"
)

var (
	simPeer    bool
	simAddress = "0x5151"
)

func init() {
	env.SetupFlags()
	flag.BoolVar(&simPeer, "sim", simPeer, "Attach a simulated peer to the virtual bus \"sim\".")
	flag.StringVar(&simAddress, "sim-address", simAddress, "Address of the simulated peer.")
}

func logEvent(_ context.Context, pkt *packet.EventPacket) {
	glog.Infof("event %s: %v", pkt, pkt.Event())
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.NewConfig()
	if simPeer {
		conf.Interfaces = append(conf.Interfaces, env.InterfaceConfig{Name: "sim", Kind: env.KindSim})
	}
	node := conf.MustNewEnv(iface.HandleEventFunc(logEvent))
	defer node.Close()

	loop := fx.NewLoop().Add(node)
	if simPeer {
		addr, err := env.ParseAddress(simAddress)
		if err != nil {
			glog.Exit(err)
		}
		peer, err := env.NewSimPeer(node.VirtualBus(env.KindSim), addr)
		if err != nil {
			glog.Exit(err)
		}
		loop.Add(peer)
	}

	if err := fx.NewRunner().HandleSignals().Go(loop).Wait(); err != nil {
		glog.Errorf("stopped: %v", err)
	}
}
