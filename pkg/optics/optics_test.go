// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"errors"
	"testing"
)

func mustOptics(t *testing.T, prefix string) *Optics {
	t.Helper()
	o, err := CreateAt(prefix, 0)
	if err != nil {
		t.Fatalf("CreateAt(%q) failed: %v", prefix, err)
	}
	return o
}

// TestCreateOpenClose verifies the registry lifecycle: create fails on a
// taken name, open returns the existing lens, and a closed name can be
// recreated.
func TestCreateOpenClose(t *testing.T) {
	o := mustOptics(t, "prefix")
	defer o.Close()

	c, err := o.CounterCreate("requests")
	if err != nil {
		t.Fatalf("CounterCreate failed: %v", err)
	}

	if _, err := o.CounterCreate("requests"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate create: err = %v, want ErrExists", err)
	}

	opened, err := o.CounterOpen("requests")
	if err != nil {
		t.Fatalf("CounterOpen failed: %v", err)
	}
	if opened != c {
		t.Error("CounterOpen should return the registered lens")
	}

	fresh, err := o.GaugeOpen("load")
	if err != nil {
		t.Fatalf("GaugeOpen on fresh name failed: %v", err)
	}
	if fresh == nil || o.GetLens("load") != fresh {
		t.Error("GaugeOpen on a fresh name should create and register it")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if o.GetLens("requests") != nil {
		t.Error("closed lens still resolvable by name")
	}
	if err := c.Close(); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("double close: err = %v, want ErrNotRegistered", err)
	}

	if _, err := o.CounterCreate("requests"); err != nil {
		t.Errorf("recreate after close failed: %v", err)
	}
}

// TestOpenTypeMismatch verifies that opening a registered name under a
// different lens type is rejected instead of silently handing out the wrong
// aggregator.
func TestOpenTypeMismatch(t *testing.T) {
	o := mustOptics(t, "prefix")
	defer o.Close()

	if _, err := o.CounterCreate("requests"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.GaugeOpen("requests"); !errors.Is(err, ErrType) {
		t.Errorf("GaugeOpen on a counter: err = %v, want ErrType", err)
	}
}

// TestNameGrammar verifies the shared name rules: 1..255 bytes, no NUL, no
// dots (reserved as key separator).
func TestNameGrammar(t *testing.T) {
	o := mustOptics(t, "prefix")
	defer o.Close()

	long := make([]byte, NameMaxLen)
	for i := range long {
		long[i] = 'a'
	}

	for _, name := range []string{"", string(long), "a.b", "nul\x00byte"} {
		if _, err := o.CounterCreate(name); !errors.Is(err, ErrName) {
			t.Errorf("CounterCreate(%q): err = %v, want ErrName", name, err)
		}
	}

	if _, err := o.CounterCreate(string(long[:NameMaxLen-1])); err != nil {
		t.Errorf("max length name rejected: %v", err)
	}

	if _, err := CreateAt("pre.fix", 0); !errors.Is(err, ErrName) {
		t.Error("prefix with dot should be rejected")
	}
}

// TestRecordTypeMismatch verifies that record calls against the wrong lens
// type return false and leave the lens untouched.
func TestRecordTypeMismatch(t *testing.T) {
	o := mustOptics(t, "prefix")
	defer o.Close()

	g, err := o.GaugeCreate("g")
	if err != nil {
		t.Fatal(err)
	}

	if g.Inc(1) || g.Record(1) || g.Observe(1) || g.Update(1) {
		t.Error("record calls with mismatched type must return false")
	}
	if !g.Set(1.0) {
		t.Error("matching record call must return true")
	}
}

// TestLabels verifies ordered label semantics: insertion order preserved,
// last write per key wins.
func TestLabels(t *testing.T) {
	var ls Labels
	ls.Set("cluster", "alex")
	ls.Set("partition", "a40")
	ls.Set("cluster", "fritz")

	if ls.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ls.Len())
	}
	if v, ok := ls.Get("cluster"); !ok || v != "fritz" {
		t.Errorf("Get(cluster) = %q, %v", v, ok)
	}
	if all := ls.All(); all[0].Key != "cluster" || all[1].Key != "partition" {
		t.Errorf("label order not preserved: %v", all)
	}
}
