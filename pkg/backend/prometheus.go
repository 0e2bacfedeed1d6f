// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"strings"
	"sync"

	"github.com/ClusterCockpit/cc-optics/pkg/optics"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus bridges poll cycles into a prometheus.Collector: every
// normalized sample of the last completed cycle is exported as an untyped
// metric, with host, prefix and the root labels attached. Register it on a
// registry and serve it via promhttp.
type Prometheus struct {
	mu      sync.RWMutex
	pending []promSample
	current []promSample
}

type promSample struct {
	name   string
	value  float64
	labels prometheus.Labels
}

func NewPrometheus() *Prometheus {
	return &Prometheus{}
}

func (p *Prometheus) Record(event optics.Event, poll *optics.Poll) {
	switch event {
	case optics.EventBegin:
		p.pending = p.pending[:0]

	case optics.EventMetric:
		labels := prometheus.Labels{
			"hostname": poll.Host,
			"prefix":   poll.Prefix,
		}
		for _, l := range poll.Labels {
			labels[l.Key] = l.Val
		}

		poll.Normalize(func(ts optics.Ts, key string, value float64) bool {
			p.pending = append(p.pending, promSample{
				name:   promName(key),
				value:  value,
				labels: labels,
			})
			return true
		})

	case optics.EventDone:
		p.mu.Lock()
		p.current, p.pending = p.pending, p.current[:0]
		p.mu.Unlock()
	}
}

func (p *Prometheus) Close() {}

// Describe intentionally sends nothing: the metric set follows the live
// lens population, so the collector is unchecked.
func (p *Prometheus) Describe(ch chan<- *prometheus.Desc) {}

func (p *Prometheus) Collect(ch chan<- prometheus.Metric) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, s := range p.current {
		m, err := prometheus.NewConstMetric(
			prometheus.NewDesc(s.name, "optics lens sample", nil, s.labels),
			prometheus.UntypedValue, s.value)
		if err != nil {
			continue
		}
		ch <- m
	}
}

// promName maps a dotted optics key onto the prometheus name grammar.
func promName(key string) string {
	return "optics_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}
