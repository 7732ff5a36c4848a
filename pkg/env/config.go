// Package env sets up a node from command line flags, environment variables
// and an optional TOML configuration file.
package env

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/robotalks/evbus/pkg/iface"
)

// Interface kinds
const (
	KindSim       = "sim"
	KindSocketCAN = "socketcan"
	KindUART      = "uart"
	KindTCP       = "tcp"
	KindWebsocket = "websocket"
	KindMQTT      = "mqtt"
)

// InterfaceConfig describes one transport interface.
type InterfaceConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
	// Device is the CAN interface, serial device, TCP address or URL,
	// or the virtual bus name for sim.
	Device      string `toml:"device"`
	Baud        int    `toml:"baud"`
	ReadTimeout string `toml:"read_timeout"`
	// Lock names a peripheral lock shared with other interfaces.
	Lock string `toml:"lock"`
}

// Config provides common options to setup a node.
type Config struct {
	// Name identifies the node on MQTT.
	Name string
	// Address of the node, derived from the machine ID if 0.
	Address uint32
	// MQTTBrokerURL specifies the MQTT broker to bridge to, empty disables.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// ConfigFile is the TOML file with interfaces.
	ConfigFile string
	// Interval is the idle interval of the scheduling loop.
	Interval time.Duration
	// ReassemblyTimeout abandons stalled CAN receptions.
	ReassemblyTimeout time.Duration
	// Interfaces to register in order.
	Interfaces []InterfaceConfig
}

var defaultConfig = Config{
	Interval:          10 * time.Millisecond,
	ReassemblyTimeout: iface.DefaultReassemblyTimeout,
}

func init() {
	if val := os.Getenv("EVBUS_NAME"); val != "" {
		defaultConfig.Name = val
	}
	if val := os.Getenv("EVBUS_ADDRESS"); val != "" {
		if addr, err := ParseAddress(val); err == nil {
			defaultConfig.Address = addr
		}
	}
	if val := os.Getenv("EVBUS_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("EVBUS_CONFIG"); val != "" {
		defaultConfig.ConfigFile = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Name, "name", defaultConfig.Name, "Node name")
	flag.Func("address", "Node address, derived from machine ID if not specified", func(s string) (err error) {
		defaultConfig.Address, err = ParseAddress(s)
		return
	})
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.ConfigFile, "config", defaultConfig.ConfigFile, "Interfaces config file")
	flag.DurationVar(&defaultConfig.Interval, "interval", defaultConfig.Interval, "Scheduling interval when idle")
	flag.DurationVar(&defaultConfig.ReassemblyTimeout, "reassembly-timeout", defaultConfig.ReassemblyTimeout, "Abandon stalled CAN receptions, 0 disables")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Interfaces = append([]InterfaceConfig(nil), defaultConfig.Interfaces...)
	return &conf
}

// ParseAddress parses a node address in decimal or 0x-prefixed hex.
func ParseAddress(s string) (uint32, error) {
	addr, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint32(addr), nil
}

type fileConfig struct {
	Name              string            `toml:"name"`
	Address           int64             `toml:"address"`
	MQTT              string            `toml:"mqtt"`
	Interval          string            `toml:"interval"`
	ReassemblyTimeout string            `toml:"reassembly_timeout"`
	Interfaces        []InterfaceConfig `toml:"interface"`
}

// LoadFile applies settings from a TOML file. Settings not present in the
// file are left unchanged, and interfaces are appended.
func (c *Config) LoadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if meta.IsDefined("name") {
		c.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("address") {
		if raw.Address < 0 || raw.Address > int64(^uint32(0)) {
			return fmt.Errorf("address out of range: %d", raw.Address)
		}
		c.Address = uint32(raw.Address)
	}
	if meta.IsDefined("mqtt") {
		c.MQTTBrokerURL = strings.TrimSpace(raw.MQTT)
	}
	if meta.IsDefined("interval") {
		if c.Interval, err = time.ParseDuration(raw.Interval); err != nil {
			return fmt.Errorf("parse interval: %w", err)
		}
	}
	if meta.IsDefined("reassembly_timeout") {
		if c.ReassemblyTimeout, err = time.ParseDuration(raw.ReassemblyTimeout); err != nil {
			return fmt.Errorf("parse reassembly_timeout: %w", err)
		}
	}
	for n, ifc := range raw.Interfaces {
		if ifc.Kind == "" {
			return fmt.Errorf("interface[%d]: kind required", n)
		}
		if ifc.Name == "" {
			ifc.Name = fmt.Sprintf("%s%d", ifc.Kind, n)
		}
		c.Interfaces = append(c.Interfaces, ifc)
	}
	return nil
}
