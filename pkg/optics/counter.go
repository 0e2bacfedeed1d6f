// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import "sync/atomic"

// counterEpoch pads each per-epoch accumulator to its own cache line.
type counterEpoch struct {
	n atomic.Int64
	_ [cacheLine - 8]byte
}

type counterLens struct {
	epochs [2]counterEpoch
}

// CounterCreate registers a new counter lens. Counters accumulate signed
// deltas and are emitted as a rate over the poll interval.
func (o *Optics) CounterCreate(name string) (*Lens, error) {
	l, err := newLens(o, TypeCounter, name)
	if err != nil {
		return nil, err
	}
	l.counter = &counterLens{}

	if err := o.createLens(l); err != nil {
		return nil, err
	}
	return l, nil
}

// CounterOpen returns the counter registered under name, creating it first
// if needed.
func (o *Optics) CounterOpen(name string) (*Lens, error) {
	l, err := newLens(o, TypeCounter, name)
	if err != nil {
		return nil, err
	}
	l.counter = &counterLens{}

	return o.openLens(l)
}

// Inc adds delta to the counter on the active epoch. Wait-free; individual
// updates may be observed out of order but the per-epoch sum is exact.
func (l *Lens) Inc(delta int64) bool {
	if l.typ != TypeCounter {
		return l.typeErr(TypeCounter)
	}

	l.counter.epochs[l.optics.currentEpoch()].n.Add(delta)
	return true
}

// readCounter harvests and resets the quiescent accumulator. Never fails.
func (l *Lens) readCounter(parity uint64) int64 {
	return l.counter.epochs[parity].n.Swap(0)
}
