// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"fmt"
	"sync/atomic"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// cacheLine is the alignment unit for the per-epoch sub-records. Recorders
// and the poller touch opposite epochs of the same lens; without the padding
// those atomic operations would share cache lines, which is atrociously slow.
const cacheLine = 64

// Type tags the five lens aggregators. The set is closed: the poller matches
// on it exhaustively.
type Type int

const (
	TypeCounter Type = iota
	TypeGauge
	TypeDist
	TypeHisto
	TypeQuantile
)

func (t Type) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeDist:
		return "dist"
	case TypeHisto:
		return "histo"
	case TypeQuantile:
		return "quantile"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Ret is the outcome of a poll-side operation or a Foreach visitor.
type Ret int

const (
	// OK means the operation succeeded.
	OK Ret = iota
	// Err means an invariant was violated; the lens is skipped and the
	// failure logged.
	Err
	// Busy means the record buffer was held by a recorder; the lens is
	// skipped this interval and nothing is lost.
	Busy
	// Break is returned by visitors to stop a traversal. Not an error.
	Break
)

// Lens is a named, typed aggregator registered on an Optics root. Exactly one
// of the payload pointers is non-nil, matching typ.
//
// next is atomic because the poller traverses the list without locks; prev is
// plain because it is only ever touched under the registry mutex.
type Lens struct {
	optics *Optics
	name   string
	typ    Type

	next atomic.Pointer[Lens]
	prev *Lens

	counter  *counterLens
	gauge    *gaugeLens
	dist     *distLens
	histo    *histoLens
	quantile *quantileLens
}

func newLens(o *Optics, typ Type, name string) (*Lens, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return &Lens{optics: o, typ: typ, name: name}, nil
}

// Name returns the registered lens name (without prefix or host).
func (l *Lens) Name() string { return l.name }

// Type returns the aggregator type tag.
func (l *Lens) Type() Type { return l.typ }

// Close unregisters the lens and schedules its storage for reclamation on
// the second epoch flip after the close. Recording on a closed lens is
// harmless: writes land in a buffer nobody will harvest.
func (l *Lens) Close() error {
	return l.optics.closeLens(l)
}

// reclaim is invoked by the defer-queue drain once no traversal can reach
// the lens anymore.
func (l *Lens) reclaim() {
	if l.dist != nil {
		l.dist.reclaim()
	}
}

// pushLens links the lens in at the head. Caller holds o.mu.
func (o *Optics) pushLens(l *Lens) {
	old := o.lensHead.Load()
	l.next.Store(old)
	l.prev = nil
	if old != nil {
		if old.prev != nil {
			panic("OPTICS/LENS > pushing in front of an interior node")
		}
		old.prev = l
	}

	// The release store pairs with the acquire load in Foreach: a
	// traversal that observes the new head also observes the fully
	// initialized lens behind it.
	o.lensHead.Store(l)
}

// removeLens unlinks the lens. Caller holds o.mu. This only removes the lens
// from polling; the memory is handed to the defer queue separately.
func (o *Optics) removeLens(l *Lens) {
	next := l.next.Load()
	if next != nil {
		if next.prev != l {
			panic("OPTICS/LENS > lens list corrupted")
		}
		next.prev = l.prev
	}

	if l.prev != nil {
		if l.prev.next.Load() != l {
			panic("OPTICS/LENS > lens list corrupted")
		}
		l.prev.next.Store(next)
	}

	if o.lensHead.Load() == l {
		o.lensHead.Store(next)
	}
}

// typeErr logs and reports a record call against the wrong lens type.
func (l *Lens) typeErr(want Type) bool {
	cclog.Errorf("invalid lens type for '%s': %s != %s", l.name, l.typ, want)
	return false
}
