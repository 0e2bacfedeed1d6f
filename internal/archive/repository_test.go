// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ClusterCockpit/cc-optics/pkg/optics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRepo *Repository

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "cc-optics-archive-")
	if err != nil {
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	if err := Connect(filepath.Join(dir, "archive.db")); err != nil {
		os.Exit(1)
	}
	testRepo = GetRepository()

	os.Exit(m.Run())
}

func archiveCycle(r *Repository, key string, value int64, ts optics.Ts) {
	r.Record(optics.EventBegin, nil)
	r.Record(optics.EventMetric, &optics.Poll{
		Host:    "host",
		Prefix:  "prefix",
		Key:     key,
		Type:    optics.TypeCounter,
		Counter: value,
		Ts:      ts,
		Elapsed: 1,
	})
	r.Record(optics.EventDone, nil)
}

// TestArchiveCycle verifies that completed cycles are committed and
// queryable by key.
func TestArchiveCycle(t *testing.T) {
	archiveCycle(testRepo, "requests", 42, 100)
	archiveCycle(testRepo, "requests", 7, 200)

	key := "prefix.host.requests"
	rows, err := testRepo.GetSamples(SampleFilter{Key: &key})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Newest first.
	assert.Equal(t, int64(200), rows[0].Ts)
	assert.Equal(t, 7.0, rows[0].Value)
	assert.Equal(t, "counter", rows[0].Type)
	assert.Equal(t, int64(100), rows[1].Ts)
	assert.Equal(t, 42.0, rows[1].Value)
}

// TestArchiveFilter verifies time-range and limit filtering.
func TestArchiveFilter(t *testing.T) {
	archiveCycle(testRepo, "filtered", 1, 1000)
	archiveCycle(testRepo, "filtered", 2, 2000)
	archiveCycle(testRepo, "filtered", 3, 3000)

	key := "prefix.host.filtered"
	from, to := int64(1500), int64(2500)
	rows, err := testRepo.GetSamples(SampleFilter{Key: &key, From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0].Value)

	rows, err = testRepo.GetSamples(SampleFilter{Key: &key, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

// TestArchiveEmptyCycle verifies that a cycle without samples writes
// nothing.
func TestArchiveEmptyCycle(t *testing.T) {
	testRepo.Record(optics.EventBegin, nil)
	testRepo.Record(optics.EventDone, nil)

	key := "prefix.host.nothing"
	rows, err := testRepo.GetSamples(SampleFilter{Key: &key})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// TestArchiveRetention verifies the age-based cleanup.
func TestArchiveRetention(t *testing.T) {
	archiveCycle(testRepo, "aged", 1, 10)
	archiveCycle(testRepo, "aged", 2, 20)

	deleted, err := testRepo.Retention(15)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	key := "prefix.host.aged"
	rows, err := testRepo.GetSamples(SampleFilter{Key: &key})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(20), rows[0].Ts)
}
