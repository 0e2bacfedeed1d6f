// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend provides the standard emitters for optics poll cycles:
// plain writer dumps, Graphite/Carbon plaintext, NATS line-protocol
// publishing and a Prometheus bridge. All of them consume the
// begin/metric/done event stream of the poller and flatten typed lens values
// through Poll.Normalize.
package backend

import (
	"fmt"
	"io"
	"sync"

	"github.com/ClusterCockpit/cc-optics/pkg/optics"
)

// Dumper writes one "key value timestamp" line per normalized sample. Meant
// for stdout or log files; begin/done events are ignored.
type Dumper struct {
	mu  sync.Mutex
	out io.Writer
}

func NewDumper(out io.Writer) *Dumper {
	return &Dumper{out: out}
}

func (d *Dumper) Record(event optics.Event, poll *optics.Poll) {
	if event != optics.EventMetric {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	poll.Normalize(func(ts optics.Ts, key string, value float64) bool {
		var k optics.Key
		k.Push(poll.Prefix)
		k.Push(poll.Host)
		k.Push(key)

		_, err := fmt.Fprintf(d.out, "%s %g %d\n", k.String(), value, ts)
		return err == nil
	})
}

func (d *Dumper) Close() {}
