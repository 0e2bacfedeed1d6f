// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// histoEpoch: HistoBucketsMax+2 atomic counters, padded so the pair of epoch
// records never shares a cache line.
type histoEpoch struct {
	below  atomic.Uint64
	above  atomic.Uint64
	counts [HistoBucketsMax]atomic.Uint64
	_      [cacheLine - (2+HistoBucketsMax)*8%cacheLine]byte
}

type histoLens struct {
	// buckets holds the B+1 ordered bucket boundaries. Immutable after
	// creation, so it is safe to read without synchronization.
	buckets []uint64
	_       [cacheLine - 24]byte

	epochs [2]histoEpoch
}

// HistoCreate registers a new histogram lens over the given bucket
// boundaries. Boundaries must be strictly increasing, with 2 to
// HistoBucketsMax+1 entries; values below the first boundary count as below,
// values at or above the last as above, and bucket k is [b[k], b[k+1]).
func (o *Optics) HistoCreate(name string, buckets []uint64) (*Lens, error) {
	h, err := newHistoLens(buckets)
	if err != nil {
		return nil, err
	}

	l, err := newLens(o, TypeHisto, name)
	if err != nil {
		return nil, err
	}
	l.histo = h

	if err := o.createLens(l); err != nil {
		return nil, err
	}
	return l, nil
}

// HistoOpen returns the histogram registered under name, creating it first
// if needed. The buckets of an existing lens are kept as-is.
func (o *Optics) HistoOpen(name string, buckets []uint64) (*Lens, error) {
	h, err := newHistoLens(buckets)
	if err != nil {
		return nil, err
	}

	l, err := newLens(o, TypeHisto, name)
	if err != nil {
		return nil, err
	}
	l.histo = h

	return o.openLens(l)
}

func newHistoLens(buckets []uint64) (*histoLens, error) {
	if len(buckets) < 2 || len(buckets) > HistoBucketsMax+1 {
		return nil, fmt.Errorf("%w: need 2..%d boundaries, have %d",
			ErrBuckets, HistoBucketsMax+1, len(buckets))
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i-1] >= buckets[i] {
			return nil, fmt.Errorf("%w: boundaries must be strictly increasing (%d >= %d)",
				ErrBuckets, buckets[i-1], buckets[i])
		}
	}

	h := &histoLens{buckets: make([]uint64, len(buckets))}
	copy(h.buckets, buckets)
	return h, nil
}

// Observe classifies v into its bucket on the active epoch. Lower bounds are
// inclusive: v equal to boundary b[k] lands in bucket k.
func (l *Lens) Observe(v float64) bool {
	if l.typ != TypeHisto {
		return l.typeErr(TypeHisto)
	}

	h := l.histo
	e := &h.epochs[l.optics.currentEpoch()]

	switch {
	case v < float64(h.buckets[0]):
		e.below.Add(1)
	case v >= float64(h.buckets[len(h.buckets)-1]):
		e.above.Add(1)
	default:
		// First boundary strictly greater than v; the bucket is the
		// one just before it.
		k := sort.Search(len(h.buckets), func(i int) bool {
			return v < float64(h.buckets[i])
		})
		e.counts[k-1].Add(1)
	}
	return true
}

// readHisto harvests every counter of the quiescent record with an
// exchange-to-zero. Never busy, never fails.
func (l *Lens) readHisto(parity uint64) HistoValue {
	h := l.histo
	e := &h.epochs[parity]

	value := HistoValue{
		Buckets: h.buckets,
		Below:   e.below.Swap(0),
		Above:   e.above.Swap(0),
		Counts:  make([]uint64, len(h.buckets)-1),
	}
	for k := range value.Counts {
		value.Counts[k] = e.counts[k].Swap(0)
	}
	return value
}
