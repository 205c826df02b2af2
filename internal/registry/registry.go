// Package registry implements the tracepoint name-to-enabled-flag mapping
// described in SPEC_FULL.md §4.2: an engine-owned map mutated only from the
// engine goroutine, and a producer-owned map populated synchronously inside
// Register so producer calls never touch the engine's map.
package registry

import (
	"strings"

	"go.uber.org/atomic"
)

// NormalizeName implements the normalization rules of SPEC_FULL.md §3:
// reject non-ASCII, truncate to MaxNameLen bytes, lower-case. ok is false
// if name contains a non-ASCII byte.
func NormalizeName(name string) (normalized string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] > 0x7F {
			return "", false
		}
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	return strings.ToLower(name), true
}

// MaxNameLen is the maximum normalized tracepoint name length in bytes.
const MaxNameLen = 32

// Flag is the atomic enabled state shared between the engine, the
// registering producer, and every other producer thread.
type Flag = atomic.Bool

// NewFlag returns a freshly allocated Flag set to initial.
func NewFlag(initial bool) *Flag {
	return atomic.NewBool(initial)
}

// Producer is the producer-side view of the registry: a plain map from
// normalized name to its flag, populated synchronously by Register and
// read without locking thereafter. A Producer is owned by exactly one
// embedding handle, per SPEC_FULL.md §5.
type Producer struct {
	flags map[string]*Flag
}

// NewProducer returns an empty producer-side registry.
func NewProducer() *Producer {
	return &Producer{flags: make(map[string]*Flag, 64)}
}

// Register normalizes name and, if it is not already present, creates a
// fresh disabled flag for it. It reports the normalized name and flag so
// the caller can forward a NewTracepoint message to the engine; ok is
// false if the name was invalid or already registered.
func (p *Producer) Register(name string) (normalized string, flag *Flag, ok bool) {
	normalized, valid := NormalizeName(name)
	if !valid {
		return "", nil, false
	}
	if _, exists := p.flags[normalized]; exists {
		return "", nil, false
	}
	flag = NewFlag(false)
	p.flags[normalized] = flag
	return normalized, flag, true
}

// IsEnabled reports whether name is both known and currently enabled. It
// never blocks and never touches the engine's map.
func (p *Producer) IsEnabled(name string) bool {
	normalized, ok := NormalizeName(name)
	if !ok {
		return false
	}
	flag, known := p.flags[normalized]
	return known && flag.Load()
}

// Engine is the engine-side registry: the authoritative mapping mutated
// only from the engine goroutine, via Insert (on NewTracepoint),
// SetEnabled (on a collector command) and DisableAll (on connection
// close).
type Engine struct {
	flags map[string]*Flag
}

// NewEngine returns an empty engine-side registry.
func NewEngine() *Engine {
	return &Engine{flags: make(map[string]*Flag, 64)}
}

// Insert records a tracepoint the engine just learned about via a
// NewTracepoint ingress message. name is assumed already normalized.
func (e *Engine) Insert(name string, flag *Flag) {
	e.flags[name] = flag
}

// SetEnabled sets the enabled flag for name. name is looked up exactly as
// given, without normalization, so a name that is not already in its
// normalized form does not match. Unknown names are silently ignored, per
// SPEC_FULL.md §4.2.
func (e *Engine) SetEnabled(name string, enabled bool) {
	flag, ok := e.flags[name]
	if !ok {
		return
	}
	flag.Store(enabled)
}

// DisableAll forces every registered flag to false. Called whenever the
// collector connection closes.
func (e *Engine) DisableAll() {
	for _, flag := range e.flags {
		flag.Store(false)
	}
}

// Names returns every registered tracepoint name, for a
// TracepointListReply.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.flags))
	for name := range e.flags {
		names = append(names, name)
	}
	return names
}
