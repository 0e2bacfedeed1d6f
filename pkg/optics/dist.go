// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

// distSamplePool recycles reservoir arrays. Arrays of a registered lens are
// only returned here by the defer-queue drain, on the second epoch flip after
// the lens was closed, so a pooled array is never handed out while a
// straggling reader could still copy from it.
var distSamplePool = sync.Pool{
	New: func() any { return make([]float64, DistSamples) },
}

// spinLock guards one distEpoch. Held for one slot write and two scalar
// writes on the record path; the poller only ever try-locks it.
type spinLock struct {
	held atomic.Uint32
}

func (l *spinLock) lock() {
	for !l.held.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinLock) tryLock() bool {
	return l.held.CompareAndSwap(0, 1)
}

func (l *spinLock) unlock() {
	l.held.Store(0)
}

type distEpoch struct {
	lock spinLock
	_    [4]byte

	n       uint64
	max     float64
	samples []float64
	_       [cacheLine - 48]byte
}

type distLens struct {
	epochs [2]distEpoch
}

func (d *distLens) reclaim() {
	for i := range d.epochs {
		e := &d.epochs[i]
		e.lock.lock()
		if s := e.samples; s != nil {
			distSamplePool.Put(s)
			e.samples = nil
		}
		e.lock.unlock()
	}
}

// DistCreate registers a new distribution lens: a uniform reservoir of
// DistSamples values plus the arrival count and maximum, emitted as count,
// p50, p90, p99 and max.
func (o *Optics) DistCreate(name string) (*Lens, error) {
	l, err := newLens(o, TypeDist, name)
	if err != nil {
		return nil, err
	}
	l.dist = newDistLens()

	if err := o.createLens(l); err != nil {
		l.dist.reclaim()
		return nil, err
	}
	return l, nil
}

// DistOpen returns the distribution registered under name, creating it first
// if needed.
func (o *Optics) DistOpen(name string) (*Lens, error) {
	l, err := newLens(o, TypeDist, name)
	if err != nil {
		return nil, err
	}
	l.dist = newDistLens()

	existing, err := o.openLens(l)
	if existing != l {
		l.dist.reclaim()
	}
	return existing, err
}

func newDistLens() *distLens {
	d := &distLens{}
	for i := range d.epochs {
		d.epochs[i].samples = distSamplePool.Get().([]float64)
	}
	return d
}

// Record inserts v into the active reservoir via Algorithm R: once the
// reservoir is full, the incoming value replaces a uniformly drawn slot with
// probability DistSamples/(n+1). The draw is over [0, n] inclusive with n the
// pre-increment arrival count.
func (l *Lens) Record(v float64) bool {
	if l.typ != TypeDist {
		return l.typeErr(TypeDist)
	}

	d := &l.dist.epochs[l.optics.currentEpoch()]
	d.lock.lock()

	i := d.n
	if i >= DistSamples {
		i = rand.Uint64N(d.n + 1)
	}
	if i < DistSamples && d.samples != nil {
		d.samples[i] = v
	}

	d.n++
	if v > d.max {
		d.max = v
	}

	d.lock.unlock()
	return true
}

// readDist harvests the quiescent reservoir. Since the active epoch is never
// locked here, the only contention is with stragglers from before the flip;
// those get Busy and are picked up next interval instead of being stolen
// mid-write.
func (l *Lens) readDist(parity uint64) (DistValue, Ret) {
	d := &l.dist.epochs[parity]

	if !d.lock.tryLock() {
		return DistValue{}, Busy
	}

	var value DistValue
	value.N = d.n
	value.Max = d.max

	toCopy := min(d.n, DistSamples)
	value.Samples = make([]float64, toCopy)
	copy(value.Samples, d.samples[:toCopy])

	d.n = 0
	d.max = 0
	d.lock.unlock()

	if value.N == 0 {
		return value, OK
	}

	slices.Sort(value.Samples)
	value.P50 = value.Samples[distP(50, len(value.Samples))]
	value.P90 = value.Samples[distP(90, len(value.Samples))]
	value.P99 = value.Samples[distP(99, len(value.Samples))]

	return value, OK
}

func distP(percentile, n int) int {
	return (n * percentile) / 100
}
