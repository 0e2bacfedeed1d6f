// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"math"
	"sync/atomic"
)

// gaugeEpoch holds the IEEE-754 bit pattern of the last value written plus a
// flag recording whether any write happened since the last harvest.
type gaugeEpoch struct {
	set  atomic.Uint32
	_    [4]byte
	bits atomic.Uint64
	_    [cacheLine - 16]byte
}

type gaugeLens struct {
	epochs [2]gaugeEpoch
}

// GaugeCreate registers a new gauge lens. Gauges keep the last value set and
// are emitted unscaled.
func (o *Optics) GaugeCreate(name string) (*Lens, error) {
	l, err := newLens(o, TypeGauge, name)
	if err != nil {
		return nil, err
	}
	l.gauge = &gaugeLens{}

	if err := o.createLens(l); err != nil {
		return nil, err
	}
	return l, nil
}

// GaugeOpen returns the gauge registered under name, creating it first if
// needed.
func (o *Optics) GaugeOpen(name string) (*Lens, error) {
	l, err := newLens(o, TypeGauge, name)
	if err != nil {
		return nil, err
	}
	l.gauge = &gaugeLens{}

	return o.openLens(l)
}

// Set stores v as the gauge value. The value is written to both epoch
// records so that it survives exactly one harvest of each side: a gauge that
// is set once is visible to the next poll from either parity, and a gauge
// that is never set again eventually reports empty rather than stale. The
// write to the quiescent record is the one place a recorder touches the
// poller's cache line; two plain stores per Set are an acceptable price for
// the visibility rule above.
func (l *Lens) Set(v float64) bool {
	if l.typ != TypeGauge {
		return l.typeErr(TypeGauge)
	}

	bits := math.Float64bits(v)
	for i := range l.gauge.epochs {
		e := &l.gauge.epochs[i]
		e.bits.Store(bits)
		e.set.Store(1)
	}
	return true
}

// readGauge harvests the quiescent record. Reports present=false when no set
// reached this parity since its last harvest; a harvested value is zeroed in
// the record.
func (l *Lens) readGauge(parity uint64) (value float64, present bool) {
	e := &l.gauge.epochs[parity]

	if e.set.Swap(0) == 0 {
		return 0, false
	}
	return math.Float64frombits(e.bits.Swap(0)), true
}
