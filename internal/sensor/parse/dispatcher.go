// Package parse routes raw sensor buffers to versioned packet parsers and
// accumulates their firings into rotation-delimited point clouds.
package parse

import (
	"errors"
	"sync/atomic"

	"github.com/locusrobotics/quanergy-client/internal/sensor"
	"github.com/locusrobotics/quanergy-client/internal/sensor/signal"
)

// Parser is one packet sub-parser. Matches inspects a buffer without
// consuming it; Parse decodes the buffer and returns a completed cloud
// when one finished.
type Parser interface {
	Matches(buf []byte) bool
	Parse(buf []byte) (*sensor.PolarCloud, error)
}

// universal is implemented by catch-all parsers that match every buffer.
type universal interface {
	Universal() bool
}

// ErrUniversalParserOrder reports a catch-all parser registered before the
// end of the parser list, where it would shadow exact matches.
var ErrUniversalParserOrder = errors.New("universal parser must be registered last")

// StatsSink receives dispatch counters. Implementations must be safe for
// concurrent use.
type StatsSink interface {
	AddUnknown()
	AddCloud()
}

// Dispatcher tries each registered parser in declaration order and lets
// the first match consume the buffer. Unmatched buffers are counted and
// dropped.
type Dispatcher struct {
	parsers []Parser
	unknown atomic.Uint64
	stats   StatsSink
	clouds  signal.Signal[*sensor.PolarCloud]
}

// SetStats installs an optional dispatch counter sink.
func (d *Dispatcher) SetStats(stats StatsSink) { d.stats = stats }

// NewDispatcher builds a dispatcher over the given parsers. Registration
// order is match order; a universal parser anywhere but last is rejected.
func NewDispatcher(parsers ...Parser) (*Dispatcher, error) {
	for i, p := range parsers {
		if u, ok := p.(universal); ok && u.Universal() && i != len(parsers)-1 {
			return nil, ErrUniversalParserOrder
		}
	}
	return &Dispatcher{parsers: parsers}, nil
}

// Accept routes one raw buffer. It returns the completed cloud when a
// rotation finished, nil otherwise. Firmware and malformed-packet errors
// from the matched parser propagate; an unmatched buffer is dropped and
// counted, not an error.
func (d *Dispatcher) Accept(buf []byte) (*sensor.PolarCloud, error) {
	for _, p := range d.parsers {
		if !p.Matches(buf) {
			continue
		}
		cloud, err := p.Parse(buf)
		if err != nil {
			return nil, err
		}
		if cloud != nil {
			if d.stats != nil {
				d.stats.AddCloud()
			}
			d.clouds.Emit(cloud)
		}
		return cloud, nil
	}
	d.unknown.Add(1)
	if d.stats != nil {
		d.stats.AddUnknown()
	}
	return nil, nil
}

// UnknownPackets returns the number of buffers no parser matched.
func (d *Dispatcher) UnknownPackets() uint64 {
	return d.unknown.Load()
}

// Subscribe registers a sink for completed polar clouds. Sinks must treat
// the cloud as immutable.
func (d *Dispatcher) Subscribe(fn func(*sensor.PolarCloud)) *signal.Handle {
	return d.clouds.Subscribe(fn)
}
