// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"sort"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-optics/pkg/optics"
	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/nats-io/nats.go"
)

// NatsConfig is the JSON shape used by the daemon configuration.
type NatsConfig struct {
	// Address of the NATS server (nats://host:port).
	Address string `json:"address"`
	// Subject to publish poll cycles on.
	Subject string `json:"subject"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Nats publishes each completed poll cycle as one influx line-protocol
// message: one line per normalized sample, host/prefix and root labels as
// tags. Connection handling follows the usual client rules: automatic
// reconnect with unlimited retries.
type Nats struct {
	conn    *nats.Conn
	subject string

	mu  sync.Mutex
	enc lineprotocol.Encoder
}

func NewNats(cfg *NatsConfig) (*Nats, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, err
	}

	n := &Nats{conn: conn, subject: cfg.Subject}
	n.enc.SetPrecision(lineprotocol.Nanosecond)
	return n, nil
}

func (n *Nats) Record(event optics.Event, poll *optics.Poll) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch event {
	case optics.EventBegin:
		n.enc.Reset()

	case optics.EventMetric:
		n.encode(poll)

	case optics.EventDone:
		if err := n.enc.Err(); err != nil {
			cclog.Errorf("nats: line-protocol encoding failed, dropping cycle: %v", err)
			return
		}
		if len(n.enc.Bytes()) == 0 {
			return
		}
		if err := n.conn.Publish(n.subject, n.enc.Bytes()); err != nil {
			cclog.Warnf("nats: publish on '%s' failed, dropping cycle: %v", n.subject, err)
		}
	}
}

func (n *Nats) encode(poll *optics.Poll) {
	// Line-protocol requires tag keys in lexical order.
	tags := []optics.Label{
		{Key: "hostname", Val: poll.Host},
		{Key: "prefix", Val: poll.Prefix},
	}
	tags = append(tags, poll.Labels...)
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })

	poll.Normalize(func(ts optics.Ts, key string, value float64) bool {
		n.enc.StartLine(key)
		for _, tag := range tags {
			n.enc.AddTag(tag.Key, tag.Val)
		}
		n.enc.AddField("value", lineprotocol.MustNewValue(value))
		n.enc.EndLine(time.Unix(0, int64(ts)))
		return true
	})
}

func (n *Nats) Close() {
	n.conn.Close()
}
