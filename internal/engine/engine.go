// Package engine implements the reactor loop of SPEC_FULL.md §4.7: the
// single background goroutine that owns the listener, the one optional
// collector connection, the batching buffer, the tracepoint registry, the
// UDP beacon and the two logical timers, and dispatches every event
// source to them.
package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/Rohde-Schwarz/libtracy/internal/beacon"
	"github.com/Rohde-Schwarz/libtracy/internal/buffer"
	"github.com/Rohde-Schwarz/libtracy/internal/conn"
	"github.com/Rohde-Schwarz/libtracy/internal/ingress"
	"github.com/Rohde-Schwarz/libtracy/internal/registry"
	"github.com/Rohde-Schwarz/libtracy/internal/tracelog"
	"github.com/Rohde-Schwarz/libtracy/internal/wire"
)

// Params configures a new Engine. AnnounceAddr is nil when announcement
// is not configured (SPEC_FULL.md §6's init contract).
type Params struct {
	FlushInterval    time.Duration
	AnnounceInterval time.Duration
	AnnounceIface    string
	AnnounceAddr     *net.UDPAddr
	Hostname         string
	ProcessName      string
	Logger           log.Logger
	Registerer       prometheus.Registerer
}

// Engine is the background tracing engine. It embeds services.Service so
// callers start and stop it exactly as the teacher starts its own
// services.Service-based components.
type Engine struct {
	services.Service

	params   Params
	logger   log.Logger
	violLog  *tracelog.RateLimited
	ingress  *ingress.Queue
	listener *conn.Listener
	beacon   *beacon.Beacon
	registry *registry.Engine
	buffer   *buffer.Buffer
	metrics  *metrics

	clientConnected *atomic.Bool
}

// New binds the listener (and the beacon, if configured) and builds an
// Engine in the not-yet-started state. Per SPEC_FULL.md §7, a listener
// bind failure is fatal to construction; New returns the error rather
// than panicking so the embedding facade (libtracy.Init) can translate it
// into the documented nil-handle return.
func New(params Params) (*Engine, error) {
	listener, err := conn.Bind()
	if err != nil {
		return nil, fmt.Errorf("engine: bind listener: %w", err)
	}

	var bcn *beacon.Beacon
	if params.AnnounceAddr != nil {
		bcn, err = beacon.Bind(params.AnnounceIface, params.AnnounceAddr, params.Hostname, params.ProcessName, params.AnnounceInterval)
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("engine: bind beacon: %w", err)
		}
	}

	if params.Logger == nil {
		params.Logger = log.NewNopLogger()
	}
	if params.Registerer == nil {
		params.Registerer = prometheus.NewRegistry()
	}

	e := &Engine{
		params:          params,
		logger:          params.Logger,
		violLog:         tracelog.NewRateLimited(5, params.Logger),
		ingress:         ingress.New(),
		listener:        listener,
		beacon:          bcn,
		registry:        registry.NewEngine(),
		buffer:          buffer.New(),
		metrics:         newMetrics(params.Registerer),
		clientConnected: atomic.NewBool(false),
	}
	e.Service = services.NewBasicService(nil, e.running, e.stopping)
	return e, nil
}

// Ingress returns the producer-facing side of the ingress queue.
func (e *Engine) Ingress() *ingress.Queue {
	return e.ingress
}

// ClientConnected returns the shared flag producers sample to fast-reject
// submissions with no collector attached.
func (e *Engine) ClientConnected() *atomic.Bool {
	return e.clientConnected
}

// Port returns the bound TCP listener port, for logging and tests.
func (e *Engine) Port() uint16 {
	return e.listener.Port()
}

func armTimer(t *time.Timer, d time.Duration) {
	disarmTimer(t)
	t.Reset(d)
}

func disarmTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	disarmTimer(t)
	return t
}

func (e *Engine) running(ctx context.Context) error {
	level.Info(e.logger).Log("msg", "bound TCP listener", "port", e.listener.Port())

	flushTimer := newStoppedTimer()
	announceTimer := newStoppedTimer()

	var active *conn.Conn
	var connEvents <-chan conn.Event

	if e.beacon != nil {
		armTimer(announceTimer, e.params.AnnounceInterval)
	}

	teardown := func(reason error) {
		if active == nil {
			return
		}
		_ = active.Close()
		if reason != nil {
			_ = level.Warn(e.violLog).Log("msg", "connection torn down", "err", reason)
		}
		disarmTimer(flushTimer)
		e.registry.DisableAll()
		e.clientConnected.Store(false)
		e.metrics.connectionState.Set(0)
		active = nil
		connEvents = nil
		if e.beacon != nil {
			armTimer(announceTimer, e.params.AnnounceInterval)
		}
	}

	for {
		select {
		case <-ctx.Done():
			e.finalFlush(active)
			return nil

		case <-e.ingress.Notify():
			for _, msg := range e.ingress.DrainAll() {
				switch m := msg.(type) {
				case ingress.NewTracepoint:
					e.registry.Insert(m.Name, m.Flag)

				case ingress.Payload:
					if active == nil {
						e.metrics.eventsDropped.WithLabelValues("no_connection").Inc()
						continue
					}
					e.buffer.Append(buffer.Element{Tracepoint: m.Tracepoint, TimestampNs: m.TimestampNs, Data: m.Data})
					e.metrics.bufferOccupancy.Set(float64(e.buffer.Occupancy()))
					if e.buffer.Occupancy() > buffer.TotalSize {
						disarmTimer(flushTimer)
						if err := e.flush(active); err != nil {
							teardown(err)
						}
					} else {
						armTimer(flushTimer, e.params.FlushInterval)
					}

				case ingress.Terminate:
					e.finalFlush(active)
					return nil
				}
			}

		case <-flushTimer.C:
			if active != nil {
				if err := e.flush(active); err != nil {
					teardown(err)
				}
			}

		case <-announceTimer.C:
			if e.beacon != nil {
				e.beacon.Send(e.listener.Port())
				e.metrics.beaconsSent.Inc()
				armTimer(announceTimer, e.params.AnnounceInterval)
			}

		case nc := <-e.listener.Accepted():
			if active != nil {
				_ = nc.Close()
				continue
			}
			active = conn.Accept(nc)
			connEvents = active.Events()
			e.clientConnected.Store(true)
			disarmTimer(announceTimer)
			e.metrics.connectionState.Set(1)
			level.Info(e.logger).Log("msg", "accepted connection", "addr", nc.RemoteAddr())

		case ev := <-connEvents:
			switch f := ev.(type) {
			case conn.Frame:
				if err := e.handleFrame(active, f); err != nil {
					teardown(err)
				}
			case conn.Closed:
				teardown(f.Err)
			}
		}
	}
}

func (e *Engine) stopping(_ error) error {
	_ = e.listener.Close()
	if e.beacon != nil {
		_ = e.beacon.Close()
	}
	return nil
}

// finalFlush performs the best-effort last flush on Terminate (SPEC_FULL.md
// §4.1, §9): errors are swallowed, the engine exits regardless.
func (e *Engine) finalFlush(active *conn.Conn) {
	if active == nil {
		return
	}
	if err := e.flush(active); err != nil {
		level.Debug(e.logger).Log("msg", "final flush failed", "err", err)
		e.buffer.Clear()
	}
	_ = active.Close()
}

// flush packs and sends the buffer per the greedy windowing rule of
// SPEC_FULL.md §4.3.
func (e *Engine) flush(active *conn.Conn) error {
	for {
		window := e.buffer.PackWindow()
		if len(window) == 0 {
			break
		}
		var body []byte
		for _, el := range window {
			body = wire.AppendEvent(body, wire.Event{Name: el.Tracepoint, TimestampNs: el.TimestampNs, Data: el.Data})
		}
		if err := active.WriteFrame(wire.TracePush, body); err != nil {
			return err
		}
		e.metrics.framesSent.Inc()
		e.metrics.bytesFlushed.Add(float64(wire.HeaderLen + len(body)))
	}
	e.metrics.bufferOccupancy.Set(0)
	return nil
}

// handleFrame dispatches one decoded frame from the collector.
func (e *Engine) handleFrame(active *conn.Conn, f conn.Frame) error {
	switch f.Header.Cmd {
	case wire.TracepointListRequest:
		body := wire.EncodeTracepointList(e.registry.Names())
		return active.WriteFrame(wire.TracepointListReply, body)

	case wire.TracepointEnableRequest, wire.TracepointDisableRequest:
		names, err := wire.DecodeTracepointNames(f.Body)
		if err != nil {
			return err
		}
		enable := f.Header.Cmd == wire.TracepointEnableRequest
		for _, name := range names {
			e.registry.SetEnabled(name, enable)
		}
		return nil

	default:
		return fmt.Errorf("engine: command %d not valid from a collector", f.Header.Cmd)
	}
}
