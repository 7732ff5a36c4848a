package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/evbus/pkg/link"
)

// MetaTopic returns the topic holding the retained metadata of a node.
func MetaTopic(node string) string {
	return "nodes/" + node + "/meta"
}

// Bridge connects a node to the broker. It announces the node with retained
// metadata, cleared by the broker through the will when the node is gone,
// and exchanges packets with other nodes.
type Bridge struct {
	*ReadWriter
	Name string
	Meta link.NodeMeta

	metaJSON []byte
}

// NewBridge creates a Bridge.
func NewBridge(brokerURL, name string, meta link.NodeMeta) (*Bridge, error) {
	metaJSON, err := json.Marshal(&meta)
	if err != nil {
		return nil, err
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+MetaTopic(name), nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("evbus:" + name)
	}
	b := &Bridge{Name: name, Meta: meta, metaJSON: metaJSON}
	client := NewClient(opts, topicPrefix)
	client.OnConnect = func(c *Client) {
		c.PubWith(MetaTopic(name), b.metaJSON, 1, true)
	}
	b.ReadWriter = NewPacketReadWriter(client, name)
	return b, nil
}

// Run implements framework.Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.Client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	glog.Infof("mqtt bridge %s joined", b.Name)
	err := b.ReadWriter.Run(ctx)
	b.Client.PubWith(MetaTopic(b.Name), nil, 1, true).WaitTimeout(time.Second)
	b.Client.Close()
	glog.Infof("mqtt bridge %s left", b.Name)
	return err
}

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Discover collects the nodes announced on the broker.
func Discover(ctx context.Context, c *Client, timeout time.Duration) ([]link.NodeInfo, error) {
	resCh := make(chan link.NodeInfo, 16)
	sub := c.Sub(MetaTopic("+"), Handler(func(topic string, payload []byte) {
		info, ok := parseMeta(topic, payload)
		if !ok {
			return
		}
		select {
		case resCh <- info:
		case <-time.After(time.Second):
		}
	}))
	defer sub.Close()

	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	expired := time.After(timeout)
	var res []link.NodeInfo
	for {
		select {
		case info := <-resCh:
			res = append(res, info)
		case <-expired:
			return res, nil
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}

func parseMeta(topic string, payload []byte) (info link.NodeInfo, ok bool) {
	items := strings.Split(topic, "/")
	if len(items) != 3 || items[0] != "nodes" || len(payload) == 0 {
		return
	}
	info.Name = items[1]
	if err := json.Unmarshal(payload, &info.Meta); err != nil {
		glog.Warningf("node %s: invalid meta: %v", info.Name, err)
		return info, false
	}
	return info, true
}
