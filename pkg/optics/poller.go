// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"os"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// gracePeriod is slept between the epoch flip and the harvest so that
// recorders which sampled the old epoch just before the flip can finish
// their store. Stragglers that outlast it surface as Busy, not as data loss.
const gracePeriod = time.Millisecond

// Backend receives the event stream of each poll cycle: one EventBegin, one
// EventMetric per harvested lens (poll non-nil only for those) and one
// EventDone. Record calls are serialized: cycles never overlap.
type Backend interface {
	Record(event Event, poll *Poll)
	Close()
}

// Poller drives harvest cycles over one Optics root and fans the results out
// to its backends. Concurrent PollAt calls are serialized, so exactly one
// goroutine polls at a time.
type Poller struct {
	optics *Optics
	host   string

	pollMu sync.Mutex

	mu       sync.Mutex
	backends []Backend
}

// NewPoller returns a poller for the given root. The host key segment
// defaults to os.Hostname().
func NewPoller(o *Optics) *Poller {
	host, err := os.Hostname()
	if err != nil {
		cclog.Warnf("unable to resolve hostname: %v", err)
		host = "localhost"
	}

	return &Poller{optics: o, host: host}
}

// SetHost overrides the host segment composed into every key.
func (p *Poller) SetHost(host string) error {
	if err := checkName(host); err != nil {
		return err
	}
	p.host = host
	return nil
}

// Host returns the configured host segment.
func (p *Poller) Host() string {
	return p.host
}

// AddBackend registers a backend for all subsequent poll cycles.
func (p *Poller) AddBackend(b Backend) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends = append(p.backends, b)
}

// Close shuts down all registered backends.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.backends {
		b.Close()
	}
	p.backends = nil
}

func (p *Poller) record(event Event, poll *Poll) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.backends {
		b.Record(event, poll)
	}
}

// Poll runs one harvest cycle stamped with the current wall clock.
func (p *Poller) Poll() bool {
	return p.PollAt(Ts(time.Now().UnixNano()))
}

// PollAt runs one harvest cycle: flip the epoch, give stragglers the grace
// period, then walk the lens list reading the now-quiescent buffers and emit
// begin/metric/done to the backends. The cycle always completes; individual
// lenses may be skipped with a warning.
func (p *Poller) PollAt(ts Ts) bool {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	quiescent, lastInc := p.optics.epochIncAt(ts)

	// We'd need full epoch-based reclamation to wait recorders out
	// properly, but that would tax the record side; waiting a bit and
	// handling stragglers via Busy is the better trade.
	time.Sleep(gracePeriod)

	p.record(EventBegin, nil)
	p.pollOptics(ts, lastInc, quiescent)
	p.record(EventDone, nil)

	return true
}

func (p *Poller) pollOptics(ts, lastInc Ts, quiescent uint64) {
	var elapsed Ts
	switch {
	case ts > lastInc:
		elapsed = ts - lastInc
	case ts == lastInc:
		elapsed = 1
	default:
		elapsed = 1
		cclog.Warnf("clock out of sync for '%s': optics=%d, poller=%d",
			p.optics.Prefix(), lastInc, ts)
	}

	labels := p.optics.Labels()

	p.optics.Foreach(func(l *Lens) Ret {
		p.pollLens(l, ts, elapsed, quiescent, labels)
		return OK
	})
}

func (p *Poller) pollLens(l *Lens, ts, elapsed Ts, quiescent uint64, labels []Label) {
	poll := Poll{
		Host:   p.host,
		Prefix: p.optics.Prefix(),
		Key:    l.Name(),
		Labels: labels,

		Type: l.Type(),

		Ts:      ts,
		Elapsed: elapsed,
	}

	ret := OK
	switch l.Type() {
	case TypeCounter:
		poll.Counter = l.readCounter(quiescent)

	case TypeGauge:
		var present bool
		poll.Gauge, present = l.readGauge(quiescent)
		if !present {
			// No sample this interval; nothing to emit.
			return
		}

	case TypeDist:
		poll.Dist, ret = l.readDist(quiescent)

	case TypeHisto:
		poll.Histo = l.readHisto(quiescent)

	case TypeQuantile:
		poll.Quantile = l.readQuantile(quiescent)

	default:
		ret = Err
	}

	switch ret {
	case OK:
		p.record(EventMetric, &poll)
	case Busy:
		cclog.Warnf("skipping lens '%s'", p.lensKey(l))
	default:
		cclog.Errorf("unable to read lens '%s'", p.lensKey(l))
	}
}

func (p *Poller) lensKey(l *Lens) string {
	var key Key
	key.Push(p.optics.Prefix())
	key.Push(p.host)
	key.Push(l.Name())
	return key.String()
}
