// Package libtracy is an in-process tracing agent: application code
// registers named tracepoints, submits small binary payloads against
// them, and a background engine batches and transmits active events to
// at most one connected collector over a byte-exact TCP protocol. While
// no collector is connected the agent periodically announces its
// presence over UDP.
package libtracy

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Rohde-Schwarz/libtracy/internal/engine"
	"github.com/Rohde-Schwarz/libtracy/internal/ingress"
	"github.com/Rohde-Schwarz/libtracy/internal/registry"
	"github.com/Rohde-Schwarz/libtracy/internal/tracelog"
	"github.com/Rohde-Schwarz/libtracy/internal/wire"
)

// Agent is the embedding handle: the producer-facing facade in front of
// the background engine. The zero value is not usable; obtain one from
// Init.
type Agent struct {
	engine   *engine.Engine
	producer *registry.Producer
}

// Init validates cfg, spawns the background engine and returns a handle,
// or nil if cfg is rejected (SPEC_FULL.md §6). A non-nil error always
// accompanies a nil Agent.
func Init(cfg Config) (*Agent, error) {
	if cfg.Hostname == "" || cfg.ProcessName == "" {
		return nil, fmt.Errorf("libtracy: hostname and process_name are required")
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("libtracy: flush_interval must be greater than zero")
	}

	announceAddr, announce := cfg.announceConfigured()

	logger := tracelog.New(cfg.LogLevel)

	var udpAddr *net.UDPAddr
	if announce {
		udpAddr = announceAddr
	}

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	e, err := engine.New(engine.Params{
		FlushInterval:    cfg.FlushInterval,
		AnnounceInterval: cfg.AnnounceInterval,
		AnnounceIface:    cfg.AnnounceIface,
		AnnounceAddr:     udpAddr,
		Hostname:         cfg.Hostname,
		ProcessName:      cfg.ProcessName,
		Logger:           logger,
		Registerer:       registerer,
	})
	if err != nil {
		return nil, fmt.Errorf("libtracy: %w", err)
	}

	if err := services.StartAndAwaitRunning(context.Background(), e); err != nil {
		return nil, fmt.Errorf("libtracy: starting engine: %w", err)
	}

	return &Agent{
		engine:   e,
		producer: registry.NewProducer(),
	}, nil
}

// Register declares a new tracepoint. It returns an error if name is
// invalid after normalization or already registered on this handle.
func (a *Agent) Register(name string) error {
	normalized, flag, ok := a.producer.Register(name)
	if !ok {
		return fmt.Errorf("libtracy: tracepoint %q is invalid or already registered", name)
	}
	a.engine.Ingress().Send(ingress.NewTracepoint{Name: normalized, Flag: flag})
	return nil
}

// IsEnabled reports whether name is both known and currently enabled. It
// never blocks.
func (a *Agent) IsEnabled(name string) bool {
	return a.producer.IsEnabled(name)
}

// Submit enqueues one trace event for tracepoint name. It is a no-op if
// data is empty, longer than wire.MaxSubmitLen, no collector is
// connected, or the tracepoint is disabled or unknown
// (SPEC_FULL.md §6).
func (a *Agent) Submit(name string, data []byte) {
	if len(data) == 0 || len(data) > wire.MaxSubmitLen {
		return
	}
	if !a.engine.ClientConnected().Load() {
		return
	}
	if !a.producer.IsEnabled(name) {
		return
	}
	normalized, _ := registry.NormalizeName(name)
	a.engine.Ingress().Send(ingress.Payload{
		Tracepoint:  normalized,
		TimestampNs: wire.TimestampNs(time.Now()),
		Data:        append([]byte(nil), data...),
	})
}

// Close sends Terminate and blocks until the engine has performed its
// final flush and stopped. The Agent must not be used afterwards.
func (a *Agent) Close() error {
	a.engine.Ingress().Send(ingress.Terminate{})
	return services.StopAndAwaitTerminated(context.Background(), a.engine)
}

// Port returns the TCP port the agent's listener is bound to, useful for
// tests and diagnostics that don't rely on the UDP beacon.
func (a *Agent) Port() uint16 {
	return a.engine.Port()
}
