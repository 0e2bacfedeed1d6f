// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
)

type quantileEpoch struct {
	n atomic.Uint64
	_ [cacheLine - 8]byte
}

// quantileLens tracks a single target quantile online, without storing
// samples. The current estimate is original + multiplier*adjustment; the
// multiplier is estimator state shared across both epochs and deliberately
// never reset on harvest. Only the arrival counts are per-epoch.
type quantileLens struct {
	targetQuantile   float64
	originalEstimate float64
	adjustmentValue  float64
	multiplier       atomic.Int64
	_                [cacheLine - 32]byte

	epochs [2]quantileEpoch
}

// QuantileCreate registers a new target-quantile lens. quantile is the
// target probability in (0,1), estimate the starting guess and adjustment
// the step size trading tracking speed against noise.
func (o *Optics) QuantileCreate(name string, quantile, estimate, adjustment float64) (*Lens, error) {
	q, err := newQuantileLens(quantile, estimate, adjustment)
	if err != nil {
		return nil, err
	}

	l, err := newLens(o, TypeQuantile, name)
	if err != nil {
		return nil, err
	}
	l.quantile = q

	if err := o.createLens(l); err != nil {
		return nil, err
	}
	return l, nil
}

// QuantileOpen returns the quantile lens registered under name, creating it
// first if needed. The estimator parameters of an existing lens are kept.
func (o *Optics) QuantileOpen(name string, quantile, estimate, adjustment float64) (*Lens, error) {
	q, err := newQuantileLens(quantile, estimate, adjustment)
	if err != nil {
		return nil, err
	}

	l, err := newLens(o, TypeQuantile, name)
	if err != nil {
		return nil, err
	}
	l.quantile = q

	return o.openLens(l)
}

func newQuantileLens(quantile, estimate, adjustment float64) (*quantileLens, error) {
	if quantile <= 0 || quantile >= 1 {
		return nil, fmt.Errorf("optics: target quantile %g not in (0,1)", quantile)
	}

	return &quantileLens{
		targetQuantile:   quantile,
		originalEstimate: estimate,
		adjustmentValue:  adjustment,
	}, nil
}

func (q *quantileLens) estimate() float64 {
	return q.originalEstimate +
		float64(q.multiplier.Load())*q.adjustmentValue
}

// Update drifts the estimate toward the target quantile: in steady state the
// probability of a sample falling below the true q-quantile is q, so the
// expected change of the multiplier is zero exactly when the estimate sits
// on it.
func (l *Lens) Update(v float64) bool {
	if l.typ != TypeQuantile {
		return l.typeErr(TypeQuantile)
	}

	q := l.quantile
	hit := rand.Float64() < q.targetQuantile

	if v < q.estimate() {
		if !hit {
			q.multiplier.Add(-1)
		}
	} else {
		if hit {
			q.multiplier.Add(1)
		}
	}

	// The count is not used to adjust the estimate so exactness across
	// the flip doesn't matter.
	q.epochs[l.optics.currentEpoch()].n.Add(1)
	return true
}

// readQuantile harvests the per-epoch arrival count; the estimator state
// itself persists across harvests.
func (l *Lens) readQuantile(parity uint64) QuantileValue {
	q := l.quantile

	return QuantileValue{
		Quantile: q.targetQuantile,
		Sample:   q.estimate(),
		Count:    q.epochs[parity].n.Swap(0),
	}
}
