// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package optics implements an in-process metrics substrate for long-running
// services. Application goroutines record measurements into typed aggregators
// ("lenses") while a single poller goroutine periodically harvests aggregated
// values and forwards them to backends.
//
// # Record path
//
// The record path is designed to stay off every lock the poller could hold:
// counters, gauges, histograms and quantiles use only atomic operations,
// distributions take a short per-lens, per-epoch spinlock. No record operation
// ever allocates or blocks on the poller.
//
// # Epochs
//
// Every lens keeps two copies of its mutable state, indexed by the low bit of
// a monotonically increasing epoch counter. Recorders write the active copy;
// each poll cycle flips the epoch and, after a short grace period, reads the
// now-quiescent copy. Lens storage freed by Close is reclaimed through
// per-epoch defer queues on the second flip after the close so that
// lock-free list traversals never observe freed memory.
//
// # Usage
//
//	o, err := optics.CreateAt("myservice", optics.Ts(time.Now().UnixNano()))
//	hits, err := o.CounterCreate("hits")
//	hits.Inc(1)
//
//	poller := optics.NewPoller(o)
//	poller.AddBackend(backend.NewDumper(os.Stdout))
//	thread, err := optics.StartThread(poller, 10*time.Second)
package optics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Ts is a wall-clock timestamp in nanoseconds. Elapsed times derived from it
// are nanosecond counts as well, which makes the counter rescaling convention
// a per-nanosecond rate.
type Ts uint64

const (
	// NameMaxLen bounds lens names, prefixes and composed keys, including
	// the separating dots.
	NameMaxLen = 256

	// HistoBucketsMax is the maximum number of buckets in a histogram lens.
	HistoBucketsMax = 8

	// DistSamples is the size of the distribution reservoir. The size is a
	// trade-off between memory usage and the growth rate of the error
	// bounds as more elements are added to the reservoir.
	DistSamples = 200
)

var (
	ErrExists        = errors.New("optics: lens already exists")
	ErrNotRegistered = errors.New("optics: lens is not registered")
	ErrName          = errors.New("optics: invalid lens name")
	ErrType          = errors.New("optics: lens type mismatch")
	ErrBuckets       = errors.New("optics: invalid histogram buckets")
)

// Optics is the root context: it owns the lens registry, the epoch counter
// and the deferred-reclamation queues. All lenses created from one root share
// its prefix and are harvested together by one poller.
type Optics struct {
	// mu synchronizes the keys map (read and write) and the lens list
	// head (write-only, reads are lock-free). Keeping both consistent
	// with each other under the same lock is not strictly required but
	// simpler to reason about.
	mu   sync.Mutex
	keys map[string]*Lens

	lensHead atomic.Pointer[Lens]

	epoch   atomic.Uint64
	lastInc Ts
	defers  [2]atomic.Pointer[deferNode]

	prefix string
	labels Labels
}

// CreateAt returns a new root with the given prefix and initial poll
// timestamp. The timestamp seeds the elapsed-time computation of the first
// poll cycle.
func CreateAt(prefix string, now Ts) (*Optics, error) {
	o := &Optics{keys: make(map[string]*Lens)}
	if err := o.SetPrefix(prefix); err != nil {
		return nil, err
	}
	o.lastInc = now
	return o, nil
}

// Create returns a new root stamped with the current wall clock.
func Create(prefix string) (*Optics, error) {
	return CreateAt(prefix, Ts(time.Now().UnixNano()))
}

// Close tears down the root. It must not race with recorders or an active
// poller; both defer queues are drained so that pooled lens storage is
// recycled.
func (o *Optics) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.freeDeferred(0)
	o.freeDeferred(1)

	o.keys = map[string]*Lens{}
	o.lensHead.Store(nil)
}

// Prefix returns the key prefix shared by all lenses of this root.
func (o *Optics) Prefix() string {
	return o.prefix
}

// SetPrefix replaces the key prefix. The prefix follows the same grammar as
// lens name segments.
func (o *Optics) SetPrefix(prefix string) error {
	if err := checkName(prefix); err != nil {
		return err
	}
	o.prefix = prefix
	return nil
}

// SetLabel attaches or updates a label on the root. Labels are copied into
// every poll event and forwarded to the backends as dimensions.
func (o *Optics) SetLabel(key, val string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.labels.Set(key, val)
}

// Labels returns a copy of the root's label set.
func (o *Optics) Labels() []Label {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.labels.All()
}

// GetLens returns the lens registered under name, or nil.
func (o *Optics) GetLens(name string) *Lens {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.keys[name]
}

// createLens registers a freshly allocated lens under its name. Fails with
// ErrExists when the name is taken.
func (o *Optics) createLens(l *Lens) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.keys[l.name]; ok {
		return fmt.Errorf("%w: '%s'", ErrExists, l.name)
	}
	o.keys[l.name] = l
	o.pushLens(l)
	return nil
}

// openLens registers the candidate lens, or returns the lens already
// registered under the same name. The candidate is discarded in that case.
func (o *Optics) openLens(l *Lens) (*Lens, error) {
	o.mu.Lock()

	if prev, ok := o.keys[l.name]; ok {
		o.mu.Unlock()
		if prev.typ != l.typ {
			return nil, fmt.Errorf("%w: '%s' is a %s", ErrType, l.name, prev.typ)
		}
		return prev, nil
	}

	o.keys[l.name] = l
	o.pushLens(l)
	o.mu.Unlock()
	return l, nil
}

// closeLens unregisters the lens and hands its storage to the defer queue of
// the active epoch. The lens is unlinked at once; traversals already under
// way may still reach it, and its storage stays valid until that queue is
// drained two flips later.
func (o *Optics) closeLens(l *Lens) error {
	o.mu.Lock()

	if o.keys[l.name] != l {
		o.mu.Unlock()
		return fmt.Errorf("%w: '%s'", ErrNotRegistered, l.name)
	}
	delete(o.keys, l.name)
	o.removeLens(l)
	o.mu.Unlock()

	o.deferFree(l)
	return nil
}

// Foreach walks the lens list without taking any lock. The visitor may be
// invoked concurrently with record operations and with lens removal; a lens
// closed before the previous poll cycle is guaranteed to no longer be
// visited. Traversal stops early when the visitor returns anything but OK.
func (o *Optics) Foreach(fn func(l *Lens) Ret) Ret {
	// The acquire load on the head synchronizes with pushLens so that a
	// newly observed node is fully initialized. Following next pointers
	// needs no further synchronization: unlinked nodes are only reclaimed
	// via the defer queues two flips later, so a stale next pointer always
	// refers to valid memory.
	for l := o.lensHead.Load(); l != nil; l = l.next.Load() {
		if ret := fn(l); ret != OK {
			return ret
		}
	}
	return OK
}

// checkName enforces the shared name grammar: 1..255 bytes of UTF-8 with no
// NUL and no '.', which is reserved as the key separator.
func checkName(name string) error {
	if len(name) == 0 || len(name) >= NameMaxLen {
		return fmt.Errorf("%w: '%s' must be 1..%d bytes", ErrName, name, NameMaxLen-1)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 || name[i] == '.' {
			return fmt.Errorf("%w: '%s' contains '%c'", ErrName, name, name[i])
		}
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: '%s' is not valid UTF-8", ErrName, name)
	}
	return nil
}
