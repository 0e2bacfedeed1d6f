// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package archive

import (
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-optics/pkg/optics"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var (
	repoOnce     sync.Once
	repoInstance *Repository
)

// Repository stores and queries archived samples. It implements the poller
// backend contract; rows of one cycle are committed in a single transaction
// so a crashed cycle never archives partially.
type Repository struct {
	DB *sqlx.DB

	pending []SampleRow
}

// SampleRow is one archived scalar.
type SampleRow struct {
	ID       int64   `db:"id" json:"id"`
	Key      string  `db:"key" json:"key"`
	Hostname string  `db:"hostname" json:"hostname"`
	Prefix   string  `db:"prefix" json:"prefix"`
	Type     string  `db:"type" json:"type"`
	Value    float64 `db:"value" json:"value"`
	Ts       int64   `db:"ts" json:"ts"`
}

// SampleFilter selects archived samples. Nil members match everything.
type SampleFilter struct {
	Key      *string
	Hostname *string
	From     *int64
	To       *int64
	Limit    int
}

func GetRepository() *Repository {
	repoOnce.Do(func() {
		repoInstance = &Repository{DB: GetConnection().DB}
	})

	return repoInstance
}

// Record implements the poller backend contract.
func (r *Repository) Record(event optics.Event, poll *optics.Poll) {
	switch event {
	case optics.EventBegin:
		r.pending = r.pending[:0]

	case optics.EventMetric:
		poll.Normalize(func(ts optics.Ts, key string, value float64) bool {
			var k optics.Key
			k.Push(poll.Prefix)
			k.Push(poll.Host)
			k.Push(key)

			r.pending = append(r.pending, SampleRow{
				Key:      k.String(),
				Hostname: poll.Host,
				Prefix:   poll.Prefix,
				Type:     poll.Type.String(),
				Value:    value,
				Ts:       int64(ts),
			})
			return true
		})

	case optics.EventDone:
		if err := r.flush(); err != nil {
			cclog.Errorf("archive: unable to store cycle: %v", err)
		}
	}
}

func (r *Repository) Close() {}

func (r *Repository) flush() error {
	if len(r.pending) == 0 {
		return nil
	}

	tx, err := r.DB.Beginx()
	if err != nil {
		return err
	}

	stmt := `INSERT INTO sample (key, hostname, prefix, type, value, ts)
		VALUES (:key, :hostname, :prefix, :type, :value, :ts)`
	for _, row := range r.pending {
		if _, err := tx.NamedExec(stmt, row); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetSamples returns archived samples matching the filter, newest first.
func (r *Repository) GetSamples(filter SampleFilter) ([]SampleRow, error) {
	query := sq.Select("id", "key", "hostname", "prefix", "type", "value", "ts").
		From("sample").OrderBy("ts DESC")

	if filter.Key != nil {
		query = query.Where(sq.Eq{"key": *filter.Key})
	}
	if filter.Hostname != nil {
		query = query.Where(sq.Eq{"hostname": *filter.Hostname})
	}
	if filter.From != nil {
		query = query.Where(sq.GtOrEq{"ts": *filter.From})
	}
	if filter.To != nil {
		query = query.Where(sq.LtOrEq{"ts": *filter.To})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []SampleRow
	if err := r.DB.Select(&rows, stmt, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// Retention deletes samples older than the given timestamp and returns the
// number of rows removed.
func (r *Repository) Retention(before int64) (int64, error) {
	res, err := r.DB.Exec(`DELETE FROM sample WHERE ts < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
