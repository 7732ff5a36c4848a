// Package sh provides an interactive shell joining the bus through an MQTT
// broker to discover nodes, send events and monitor traffic.
package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/rs/xid"

	"github.com/robotalks/evbus/pkg/env"
	fx "github.com/robotalks/evbus/pkg/framework"
	"github.com/robotalks/evbus/pkg/iface"
	"github.com/robotalks/evbus/pkg/link"
	"github.com/robotalks/evbus/pkg/link/mqtt"
	"github.com/robotalks/evbus/pkg/protocol/packet"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoJoin    bool

	Shell  *ishell.Shell
	Config *env.Config
	Node   *Node

	monitor atomic.Bool
}

// Node is a running loop with the shell's own node on the bus.
type Node struct {
	Env    *env.Env
	Loop   *fx.Loop
	Cancel func()

	doneCh chan struct{}
}

const (
	shellKey     = "$shell"
	offbusPrompt = "[offbus] > "

	flushTimeout = time.Second
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&JoinCmd,
		&LeaveCmd,
		&SendCmd,
		&MonitorCmd,
		&StatsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(offbusPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeJoined wraps command func requires the node on the bus.
func MustBeJoined(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Node == nil {
			c.Err(fmt.Errorf("not joined"))
			return
		}
		fn(c)
	}
}

// WithAutoJoin sets AutoJoin.
func (s *Shell) WithAutoJoin(en bool) *Shell {
	s.AutoJoin = en
	return s
}

// DiscoverNodes lists the nodes announced on the broker.
func (s *Shell) DiscoverNodes(ctx context.Context) ([]link.NodeInfo, error) {
	if s.Config.MQTTBrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL required")
	}
	client, err := mqtt.NewClientFromURL(s.Config.MQTTBrokerURL)
	if err != nil {
		return nil, err
	}
	token := client.Connect()
	token.Wait()
	if err = token.Error(); err != nil {
		return nil, err
	}
	defer client.Close()
	return mqtt.Discover(ctx, client, mqtt.DefaultDiscoverTimeout)
}

// NodeConfig returns the configuration of the shell's node. Without a name,
// a unique one is generated so the shell doesn't take over the identity of a
// daemon on the same machine.
func NodeConfig(conf *env.Config) *env.Config {
	c := *conf
	if c.Name == "" {
		c.Name = "cli-" + xid.New().String()
	}
	return &c
}

// Join starts the shell's node.
func (s *Shell) Join() error {
	if s.Config.MQTTBrokerURL == "" && s.Config.ConfigFile == "" && len(s.Config.Interfaces) == 0 {
		return fmt.Errorf("no interfaces, MQTT broker URL required")
	}
	s.Leave()
	e, err := NodeConfig(s.Config).NewEnv(iface.HandleEventFunc(s.handleEvent))
	if err != nil {
		return err
	}
	node := &Node{Env: e, Loop: fx.NewLoop().Add(e), doneCh: make(chan struct{})}
	var ctx context.Context
	ctx, node.Cancel = context.WithCancel(context.Background())
	s.Node = node
	go func() {
		defer close(node.doneCh)
		node.Loop.Run(ctx)
		e.Close()
	}()
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", e.Config.Name))
	return nil
}

// Leave stops the shell's node.
func (s *Shell) Leave() {
	if s.Node != nil {
		s.Node.Cancel()
		<-s.Node.doneCh
		s.Node = nil
		s.Shell.SetPrompt(offbusPrompt)
	}
}

// Send broadcasts an event from the shell's node and waits until the
// interfaces have transmitted it.
func (s *Shell) Send(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("EVENT required")
	}
	ev, err := ParseEvent(args[0], args[1:])
	if err != nil {
		return err
	}
	if err = s.Node.Env.Manager.ReportLocalEvent(ctx, ev); err != nil {
		return err
	}
	s.Node.Loop.TriggerNext()
	return s.Node.Flush(ctx, flushTimeout)
}

func (s *Shell) handleEvent(_ context.Context, pkt *packet.EventPacket) {
	if !s.monitor.Load() {
		return
	}
	out, err := FormatPacket(pkt, s.OutputJSON)
	if err != nil {
		s.Shell.Printf("bad packet: %v\n", err)
		return
	}
	s.Shell.Println(out)
}

// Flush waits until no packet is pending for transmission.
func (n *Node) Flush(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n.pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d packets not sent: %w", n.pending(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (n *Node) pending() (count int) {
	for _, ifc := range n.Env.Manager.Interfaces() {
		if p, ok := ifc.(interface{ Pending() int }); ok {
			count += p.Pending()
		}
	}
	return
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoJoin && s.Config.MQTTBrokerURL != "" {
		if s.Interactive {
			s.Shell.Printf("Joining %s ...\n", s.Config.MQTTBrokerURL)
		}
		if err := s.Join(); err != nil {
			log.Fatalf("join failed: %v", err)
		}
	}
	defer s.Leave()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd discovers nodes.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			infoList, err := s.DiscoverNodes(context.TODO())
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if len(infoList) == 0 {
					// in case infoList is nil, make it empty slice.
					infoList = []link.NodeInfo{}
				}
				out, err := json.Marshal(infoList)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(infoList) == 0 {
				c.Println("No nodes found")
				return
			}
			for _, info := range infoList {
				c.Println(FormatInfo(info))
			}
		},
	}

	// JoinCmd joins the bus.
	JoinCmd = ishell.Cmd{
		Name:    "join",
		Aliases: []string{"j"},
		Help:    "",
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Join(); err != nil {
				c.Err(err)
			}
		},
	}

	// LeaveCmd leaves the bus.
	LeaveCmd = ishell.Cmd{
		Name:    "leave",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Leave()
		},
	}

	// SendCmd broadcasts an event.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "heartbeat | text TEXT | counter VALUE | switch on|off | blob HEX",
		Func: MustBeJoined(func(c *ishell.Context) {
			if err := ShellFrom(c).Send(context.TODO(), c.Args); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// MonitorCmd prints events received by the node.
	MonitorCmd = ishell.Cmd{
		Name:    "monitor",
		Aliases: []string{"m"},
		Help:    "[on|off]",
		Func: MustBeJoined(func(c *ishell.Context) {
			s := ShellFrom(c)
			on := !s.monitor.Load()
			if len(c.Args) > 0 {
				on = c.Args[0] == "on"
			}
			s.monitor.Store(on)
			if !on || s.Interactive {
				return
			}
			// evaluation only: keep printing until interrupted.
			<-fx.NewRunner().HandleSignals().Context.Done()
		}),
	}

	// StatsCmd prints the node counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: MustBeJoined(func(c *ishell.Context) {
			s := ShellFrom(c)
			stats := s.Node.Env.Manager.Stats()
			if s.OutputJSON {
				out, err := json.Marshal(&stats)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			c.Printf("received %d, malformed %d, forwarded %d, local %d, delivered %d\n",
				stats.Received, stats.Malformed, stats.Forwarded, stats.Local, stats.Delivered)
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).WithAutoJoin(true).Run(flag.Args()...)
}
