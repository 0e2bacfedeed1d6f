// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

// Epoch discipline: the low bit of the epoch counter selects which of the two
// per-lens sub-records recorders write to. The poller owns the other one.
// Memory-order semantics are pretty weird here since the flip does not need
// to publish any data to the recorders, yet the loads should still prevent
// hoisting of the record stores around them.

// deferNode owns one closed lens until the poller reclaims it. Nodes form a
// lock-free LIFO per epoch parity.
type deferNode struct {
	lens *Lens
	next *deferNode
}

// currentEpoch returns the parity recorders must write to.
func (o *Optics) currentEpoch() uint64 {
	return o.epoch.Load() & 1
}

// epochInc flips the epoch and returns the previous parity, which is the
// quiescent side the poller will read. Must only be called by the poller.
//
// The queue drained here holds lenses enqueued two flips ago: anything
// enqueued while parity cur^1 was active has had a full epoch for straggling
// readers to move off of it.
func (o *Optics) epochInc() uint64 {
	o.freeDeferred(o.currentEpoch() ^ 1)

	return (o.epoch.Add(1) - 1) & 1
}

// epochIncAt additionally swaps the timestamp of the last flip with now and
// returns the previous one so the poller can compute the elapsed interval.
func (o *Optics) epochIncAt(now Ts) (quiescent uint64, lastInc Ts) {
	lastInc = o.lastInc
	o.lastInc = now

	return o.epochInc(), lastInc
}

// deferFree enqueues the lens storage on the defer queue of the currently
// active epoch. A standard load/CAS push; the CAS publishes the node so the
// drain in freeDeferred reads it fully written.
func (o *Optics) deferFree(l *Lens) {
	node := &deferNode{lens: l}
	head := &o.defers[o.currentEpoch()]

	for {
		old := head.Load()
		node.next = old
		if head.CompareAndSwap(old, node) {
			return
		}
	}
}

// freeDeferred detaches the whole queue for the given parity and reclaims
// every lens on it. Called only by the poller, and only for the non-active
// epoch.
func (o *Optics) freeDeferred(parity uint64) {
	node := o.defers[parity].Swap(nil)

	for node != nil {
		node.lens.reclaim()
		node = node.next
	}
}
