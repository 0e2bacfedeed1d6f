// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optics

import "strconv"

// Event tags the three backend callbacks of one poll cycle.
type Event int

const (
	EventBegin Event = iota
	EventMetric
	EventDone
)

// DistValue is the harvested state of a distribution lens.
type DistValue struct {
	N       uint64
	P50     float64
	P90     float64
	P99     float64
	Max     float64
	Samples []float64
}

// HistoValue is the harvested state of a histogram lens. Buckets aliases the
// immutable boundary vector of the lens; Counts has len(Buckets)-1 entries.
type HistoValue struct {
	Buckets []uint64
	Below   uint64
	Above   uint64
	Counts  []uint64
}

// QuantileValue is the harvested state of a target-quantile lens.
type QuantileValue struct {
	Quantile float64
	Sample   float64
	Count    uint64
}

// Poll carries one harvested lens to the backends. Key is the bare lens
// name; backends compose the full prefix.host.key(.suffix) themselves, which
// keeps the per-lens hot path free of string building.
type Poll struct {
	Host   string
	Prefix string
	Key    string
	Labels []Label

	Type Type

	Counter  int64
	Gauge    float64
	Dist     DistValue
	Histo    HistoValue
	Quantile QuantileValue

	Ts      Ts
	Elapsed Ts
}

// NormalizeFn receives one flattened scalar per call. Returning false aborts
// the normalization.
type NormalizeFn func(ts Ts, key string, value float64) bool

// rescale turns an interval-accumulated value into a rate over the elapsed
// nanoseconds.
func (p *Poll) rescale(value float64) float64 {
	return value / float64(p.Elapsed)
}

// Normalize flattens the typed poll value into scalar samples keyed relative
// to the lens: counters become a rescaled rate under the bare key,
// distributions fan out into count/p50/p90/p99/max, histograms into one
// bucket_<lo>_<hi> per bucket plus the two open-ended ones. Gauge, quantile
// and histogram values are emitted unscaled.
func (p *Poll) Normalize(cb NormalizeFn) bool {
	switch p.Type {
	case TypeCounter:
		return cb(p.Ts, p.Key, p.rescale(float64(p.Counter)))

	case TypeGauge:
		return cb(p.Ts, p.Key, p.Gauge)

	case TypeDist:
		return p.normalizeDist(cb)

	case TypeHisto:
		return p.normalizeHisto(cb)

	case TypeQuantile:
		return cb(p.Ts, p.Key, p.Quantile.Sample)
	}

	return false
}

func (p *Poll) normalizeDist(cb NormalizeFn) bool {
	var key Key
	key.Push(p.Key)

	emit := func(suffix string, value float64) bool {
		old := key.Push(suffix)
		ok := cb(p.Ts, key.String(), value)
		key.Pop(old)
		return ok
	}

	return emit("count", p.rescale(float64(p.Dist.N))) &&
		emit("p50", p.Dist.P50) &&
		emit("p90", p.Dist.P90) &&
		emit("p99", p.Dist.P99) &&
		emit("max", p.Dist.Max)
}

func (p *Poll) normalizeHisto(cb NormalizeFn) bool {
	var key Key
	key.Push(p.Key)

	emit := func(suffix string, value uint64) bool {
		old := key.Push(suffix)
		ok := cb(p.Ts, key.String(), float64(value))
		key.Pop(old)
		return ok
	}

	b := p.Histo.Buckets
	if !emit("bucket_inf_"+strconv.FormatUint(b[0], 10), p.Histo.Below) {
		return false
	}

	for k, count := range p.Histo.Counts {
		suffix := "bucket_" + strconv.FormatUint(b[k], 10) +
			"_" + strconv.FormatUint(b[k+1], 10)
		if !emit(suffix, count) {
			return false
		}
	}

	return emit("bucket_"+strconv.FormatUint(b[len(b)-1], 10)+"_inf", p.Histo.Above)
}
