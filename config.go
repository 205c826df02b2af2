package libtracy

import (
	"flag"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config is the root config for an Agent, grounded on cmd/tempo/app's
// Config: yaml tags, a RegisterFlagsAndApplyDefaults method, and a
// NewDefaultConfig helper. Unlike the teacher's multi-module Config this
// one has a single component to configure, so the struct stays flat.
type Config struct {
	Hostname    string `yaml:"hostname"`
	ProcessName string `yaml:"process_name"`

	FlushInterval time.Duration `yaml:"flush_interval"`

	AnnounceInterval  time.Duration `yaml:"announce_interval,omitempty"`
	AnnounceIface     string        `yaml:"announce_iface,omitempty"`
	AnnounceMcastAddr string        `yaml:"announce_mcast_addr,omitempty"`

	LogLevel string `yaml:"log_level"`

	// Registerer is where the engine's Prometheus collectors are
	// registered. Not yaml-configurable: it exists so an embedder running
	// several agents (or tests starting several agents) in one process
	// can supply its own registry instead of colliding on
	// prometheus.DefaultRegisterer. Init defaults to a fresh
	// prometheus.NewRegistry() when nil.
	Registerer prometheus.Registerer `yaml:"-"`
}

// NewDefaultConfig builds a Config from an empty flag.FlagSet, the same
// way cmd/tempo/app.NewDefaultConfig obtains its defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	fs := flag.NewFlagSet("", flag.PanicOnError)
	cfg.RegisterFlagsAndApplyDefaults("", fs)
	return cfg
}

// RegisterFlagsAndApplyDefaults registers cfg's flags under prefix,
// mirroring the flagext.DefaultValues idiom used throughout
// cmd/tempo/app/config.go.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Hostname = "localhost"
	c.ProcessName = "libtracy"
	c.FlushInterval = 200 * time.Millisecond
	c.AnnounceInterval = 0
	c.LogLevel = "info"

	f.StringVar(&c.Hostname, prefix+"hostname", c.Hostname, "Hostname advertised in UDP announcements.")
	f.StringVar(&c.ProcessName, prefix+"process-name", c.ProcessName, "Process name advertised in UDP announcements.")
	f.DurationVar(&c.FlushInterval, prefix+"flush-interval", c.FlushInterval, "Interval at which the batching buffer is flushed to a connected collector.")
	f.DurationVar(&c.AnnounceInterval, prefix+"announce-interval", c.AnnounceInterval, "Interval between UDP announcements. Zero disables the beacon.")
	f.StringVar(&c.AnnounceIface, prefix+"announce-iface", "", "Local interface address the UDP beacon binds to. Empty disables the beacon.")
	f.StringVar(&c.AnnounceMcastAddr, prefix+"announce-mcast-addr", "", "Destination address:port for UDP announcements.")
	f.StringVar(&c.LogLevel, prefix+"log-level", c.LogLevel, "Log level: debug, info, warn or error.")
}

// announceConfigured reports whether every precondition of SPEC_FULL.md
// §6's init contract is met: announce_interval_ms > 0 AND an interface
// AND an announce address that parses as a socket address.
func (c *Config) announceConfigured() (*net.UDPAddr, bool) {
	if c.AnnounceInterval <= 0 || c.AnnounceIface == "" || c.AnnounceMcastAddr == "" {
		return nil, false
	}
	addr, err := net.ResolveUDPAddr("udp", c.AnnounceMcastAddr)
	if err != nil {
		return nil, false
	}
	return addr, true
}

// ConfigWarning bundles a message and its explanation, per
// cmd/tempo/app.ConfigWarning.
type ConfigWarning struct {
	Message string
	Explain string
}

// CheckConfig reports suspect but non-fatal configuration, the same
// shape as cmd/tempo/app.Config.CheckConfig.
func (c *Config) CheckConfig() []ConfigWarning {
	var warnings []ConfigWarning

	if c.FlushInterval <= 0 {
		warnings = append(warnings, ConfigWarning{
			Message: "flush_interval must be greater than zero",
			Explain: "Init will reject this configuration outright; the batching buffer would never flush on a timer.",
		})
	}

	if c.AnnounceInterval > 0 && (c.AnnounceMcastAddr == "" || c.AnnounceIface == "") {
		warnings = append(warnings, ConfigWarning{
			Message: "announce_interval is set but announce_iface or announce_mcast_addr is empty",
			Explain: "the UDP beacon will not start; set both or leave announce_interval at 0",
		})
	}

	if c.AnnounceMcastAddr != "" {
		if _, err := net.ResolveUDPAddr("udp", c.AnnounceMcastAddr); err != nil {
			warnings = append(warnings, ConfigWarning{
				Message: "announce_mcast_addr does not parse as a host:port address",
				Explain: "the UDP beacon will not start",
			})
		}
	}

	return warnings
}
