// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"math/rand/v2"
	"testing"
)

// TestQuantileDrift feeds Uniform(0,100) samples into a median estimator
// seeded far away and checks that the estimate drifts to the neighborhood of
// the true median. The estimator is a random walk around the target, so the
// tolerance is deliberately wide.
func TestQuantileDrift(t *testing.T) {
	o := mustOptics(t, "prefix")
	defer o.Close()

	q, err := o.QuantileCreate("latency", 0.5, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	const samples = 10000
	for i := 0; i < samples; i++ {
		if !q.Update(rand.Float64() * 100) {
			t.Fatal("Update returned false")
		}
	}

	value := q.readQuantile(o.currentEpoch())
	if value.Quantile != 0.5 {
		t.Errorf("quantile = %g, want 0.5", value.Quantile)
	}
	if value.Count != samples {
		t.Errorf("count = %d, want %d", value.Count, samples)
	}
	if value.Sample < 35 || value.Sample > 65 {
		t.Errorf("estimate %g nowhere near the median of Uniform(0,100)", value.Sample)
	}
}

// TestQuantileCountPerEpoch verifies that arrival counts are per-epoch and
// reset on read while the estimator state persists.
func TestQuantileCountPerEpoch(t *testing.T) {
	o := mustOptics(t, "prefix")
	defer o.Close()

	q, _ := o.QuantileCreate("latency", 0.5, 50, 1)
	q.Update(10)
	q.Update(20)

	quiescent := o.epochInc()
	q.Update(30)

	value := q.readQuantile(quiescent)
	if value.Count != 2 {
		t.Errorf("quiescent count = %d, want 2", value.Count)
	}

	// The multiplier is shared state: both parities report the same
	// estimate.
	other := q.readQuantile(o.currentEpoch())
	if other.Count != 1 {
		t.Errorf("active count = %d, want 1", other.Count)
	}
	if other.Sample != value.Sample {
		t.Errorf("estimate differs across epochs: %g != %g", other.Sample, value.Sample)
	}

	// Counts zero on re-read; the estimate does not reset.
	again := q.readQuantile(quiescent)
	if again.Count != 0 {
		t.Errorf("re-read count = %d, want 0", again.Count)
	}
	if again.Sample != value.Sample {
		t.Error("estimator state was reset by a read")
	}
}

// TestQuantileValidation verifies the target probability bounds.
func TestQuantileValidation(t *testing.T) {
	o := mustOptics(t, "prefix")
	defer o.Close()

	for _, bad := range []float64{0, 1, -0.5, 1.5} {
		if _, err := o.QuantileCreate("latency", bad, 0, 1); err == nil {
			t.Errorf("QuantileCreate(q=%g) accepted", bad)
		}
	}
}
