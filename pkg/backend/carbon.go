// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-optics/pkg/optics"
)

const carbonTimeout = 5 * time.Second

// Carbon speaks the Graphite plaintext protocol: one "key value unix-ts"
// line per sample, framed per poll cycle. The connection is dialed lazily
// and re-dialed after errors; a cycle that cannot be sent is dropped with a
// warning instead of stalling the poller.
type Carbon struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	buf  bytes.Buffer
}

func NewCarbon(host, port string) *Carbon {
	return &Carbon{addr: net.JoinHostPort(host, port)}
}

func (c *Carbon) Record(event optics.Event, poll *optics.Poll) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event {
	case optics.EventBegin:
		c.buf.Reset()

	case optics.EventMetric:
		poll.Normalize(func(ts optics.Ts, key string, value float64) bool {
			var k optics.Key
			k.Push(poll.Prefix)
			k.Push(poll.Host)
			k.Push(key)

			// Graphite wants unix seconds.
			fmt.Fprintf(&c.buf, "%s %g %d\n",
				k.String(), value, uint64(ts)/uint64(time.Second))
			return true
		})

	case optics.EventDone:
		c.send()
	}
}

func (c *Carbon) send() {
	if c.buf.Len() == 0 {
		return
	}

	if c.conn == nil {
		conn, err := net.DialTimeout("tcp", c.addr, carbonTimeout)
		if err != nil {
			cclog.Warnf("carbon: unable to connect to '%s', dropping cycle: %v", c.addr, err)
			return
		}
		c.conn = conn
	}

	c.conn.SetWriteDeadline(time.Now().Add(carbonTimeout))
	if _, err := c.conn.Write(c.buf.Bytes()); err != nil {
		cclog.Warnf("carbon: send to '%s' failed, dropping cycle: %v", c.addr, err)
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Carbon) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
