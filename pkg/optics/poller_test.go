// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"testing"
)

// mapBackend collects normalized samples under their fully composed
// prefix.host.key names, mirroring what a real emitter would publish.
type mapBackend struct {
	keys   map[string]float64
	begins int
	dones  int
}

func newMapBackend() *mapBackend {
	return &mapBackend{keys: map[string]float64{}}
}

func (b *mapBackend) Record(event Event, poll *Poll) {
	switch event {
	case EventBegin:
		b.begins++
	case EventDone:
		b.dones++
	case EventMetric:
		poll.Normalize(func(ts Ts, key string, value float64) bool {
			var k Key
			k.Push(poll.Prefix)
			k.Push(poll.Host)
			k.Push(key)
			b.keys[k.String()] = value
			return true
		})
	}
}

func (b *mapBackend) Close() {}

func (b *mapBackend) reset() {
	b.keys = map[string]float64{}
}

func (b *mapBackend) expect(t *testing.T, want map[string]float64) {
	t.Helper()
	if len(b.keys) != len(want) {
		t.Errorf("emitted %d samples, want %d: %v", len(b.keys), len(want), b.keys)
	}
	for key, value := range want {
		if got, ok := b.keys[key]; !ok || got != value {
			t.Errorf("%s = %v (present %v), want %v", key, got, ok, value)
		}
	}
}

// TestPollerMultiLens drives full poll cycles over a changing gauge
// population: lenses appear as soon as created, disappear as soon as closed,
// and values survive exactly as long as they should.
func TestPollerMultiLens(t *testing.T) {
	var ts Ts

	o := mustOptics(t, "prefix")
	defer o.Close()

	result := newMapBackend()
	poller := NewPoller(o)
	if err := poller.SetHost("host"); err != nil {
		t.Fatal(err)
	}
	poller.AddBackend(result)

	g1, _ := o.GaugeCreate("g1")
	g2, _ := o.GaugeCreate("g2")
	g3, _ := o.GaugeCreate("g3")
	g1.Set(0)
	g2.Set(1.0)
	g3.Set(1.2e-4)

	ts++
	poller.PollAt(ts)
	result.expect(t, map[string]float64{
		"prefix.host.g1": 0,
		"prefix.host.g2": 1.0,
		"prefix.host.g3": 1.2e-4,
	})

	g4, _ := o.GaugeCreate("g4")
	g1.Close()
	g2.Set(2.0)
	g4.Set(-1.0)

	result.reset()
	ts++
	poller.PollAt(ts)
	result.expect(t, map[string]float64{
		"prefix.host.g2": 2.0,
		"prefix.host.g3": 1.2e-4,
		"prefix.host.g4": -1.0,
	})

	g1, _ = o.GaugeCreate("g1")
	g1.Set(1.0)

	result.reset()
	ts++
	poller.PollAt(ts)
	result.expect(t, map[string]float64{
		"prefix.host.g1": 1.0,
		"prefix.host.g2": 2.0,
		"prefix.host.g4": -1.0,
	})

	g1.Close()
	g2.Close()
	g3.Close()
	g4.Close()

	result.reset()
	ts++
	poller.PollAt(ts)
	if len(result.keys) != 0 {
		t.Errorf("closed lenses still emitted: %v", result.keys)
	}
}

// TestPollerFreq exercises the counter rescaling convention, including the
// clock-skew fallback: whenever the poll timestamp is not ahead of the last
// flip, elapsed snaps to one and the raw delta comes through.
func TestPollerFreq(t *testing.T) {
	o := mustOptics(t, "r")
	o.lastInc = 20
	defer o.Close()

	lens, err := o.CounterCreate("l")
	if err != nil {
		t.Fatal(err)
	}

	result := newMapBackend()
	poller := NewPoller(o)
	poller.SetHost("h")
	poller.AddBackend(result)

	// Poll timestamp behind the root's creation stamp: elapsed defaults
	// back to 1.
	var ts Ts = 10
	lens.Inc(10)
	poller.PollAt(ts)
	result.expect(t, map[string]float64{"r.h.l": 10})

	ts += 10
	lens.Inc(10)
	result.reset()
	poller.PollAt(ts)
	result.expect(t, map[string]float64{"r.h.l": 1})

	ts += 10
	lens.Inc(10)
	result.reset()
	poller.PollAt(ts)
	result.expect(t, map[string]float64{"r.h.l": 1})

	// Zero elapsed is adjusted back to 1 as well.
	lens.Inc(10)
	result.reset()
	poller.PollAt(ts)
	result.expect(t, map[string]float64{"r.h.l": 10})
}

// TestPollerHisto verifies the per-bucket keys emitted for a histogram.
func TestPollerHisto(t *testing.T) {
	o := mustOptics(t, "p")
	defer o.Close()

	h, _ := o.HistoCreate("lat", []uint64{0, 10, 100})
	for _, v := range []float64{0, 5, 10, 99, 100, -1} {
		h.Observe(v)
	}

	result := newMapBackend()
	poller := NewPoller(o)
	poller.SetHost("h")
	poller.AddBackend(result)

	poller.PollAt(1)
	result.expect(t, map[string]float64{
		"p.h.lat.bucket_inf_0":   1,
		"p.h.lat.bucket_0_10":    2,
		"p.h.lat.bucket_10_100":  2,
		"p.h.lat.bucket_100_inf": 1,
	})
}

// TestPollerEvents verifies that every cycle brackets its metrics with one
// begin and one done event, even when there is nothing to harvest.
func TestPollerEvents(t *testing.T) {
	o := mustOptics(t, "p")
	defer o.Close()

	result := newMapBackend()
	poller := NewPoller(o)
	poller.AddBackend(result)

	poller.PollAt(1)
	poller.PollAt(2)

	if result.begins != 2 || result.dones != 2 {
		t.Errorf("begin/done = %d/%d, want 2/2", result.begins, result.dones)
	}
}

// TestPollerBusySkip verifies that a lens whose record buffer is held by a
// straggler is skipped for the interval without aborting the cycle.
func TestPollerBusySkip(t *testing.T) {
	o := mustOptics(t, "p")
	defer o.Close()

	d, _ := o.DistCreate("slow")
	g, _ := o.GaugeCreate("ok")
	d.Record(1)
	g.Set(7)

	// Hold the next quiescent side's lock across the poll.
	locked := &d.dist.epochs[o.currentEpoch()]
	locked.lock.lock()

	result := newMapBackend()
	poller := NewPoller(o)
	poller.SetHost("h")
	poller.AddBackend(result)
	poller.PollAt(1)

	locked.lock.unlock()

	if _, ok := result.keys["p.h.slow.count"]; ok {
		t.Error("busy lens was harvested anyway")
	}
	if result.keys["p.h.ok"] != 7 {
		t.Error("busy lens took the rest of the cycle down with it")
	}
	if result.dones != 1 {
		t.Error("cycle did not complete")
	}
}
