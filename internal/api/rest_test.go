// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ClusterCockpit/cc-optics/pkg/optics"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, api *RestApi) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	api.MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func feedCycle(api *RestApi) {
	api.Record(optics.EventBegin, nil)
	api.Record(optics.EventMetric, &optics.Poll{
		Host:    "host",
		Prefix:  "prefix",
		Key:     "requests",
		Type:    optics.TypeCounter,
		Counter: 42,
		Ts:      7,
		Elapsed: 1,
	})
	api.Record(optics.EventDone, nil)
}

// TestGetMetrics verifies that the full snapshot of the last completed
// cycle is served.
func TestGetMetrics(t *testing.T) {
	api := New(nil)
	feedCycle(api)
	srv := testServer(t, api)

	res, err := http.Get(srv.URL + "/api/metrics/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var snap Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snap))
	require.Contains(t, snap.Metrics, "prefix.host.requests")
	assert.Equal(t, 42.0, snap.Metrics["prefix.host.requests"].Value)
	assert.Equal(t, "counter", snap.Metrics["prefix.host.requests"].Type)
}

// TestGetMetricByKey verifies single-key lookup and the 404 error shape.
func TestGetMetricByKey(t *testing.T) {
	api := New(nil)
	feedCycle(api)
	srv := testServer(t, api)

	res, err := http.Get(srv.URL + "/api/metrics/prefix.host.requests")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var sample Sample
	require.NoError(t, json.NewDecoder(res.Body).Decode(&sample))
	assert.Equal(t, 42.0, sample.Value)

	res, err = http.Get(srv.URL + "/api/metrics/no.such.key")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

// TestSnapshotSwap verifies that readers only ever see completed cycles: an
// in-flight cycle does not leak into the served snapshot.
func TestSnapshotSwap(t *testing.T) {
	api := New(nil)
	feedCycle(api)

	api.Record(optics.EventBegin, nil)
	api.Record(optics.EventMetric, &optics.Poll{
		Host: "host", Prefix: "prefix", Key: "other",
		Type: optics.TypeCounter, Counter: 1, Ts: 8, Elapsed: 1,
	})
	// No done yet.

	srv := testServer(t, api)
	res, err := http.Get(srv.URL + "/api/metrics/")
	require.NoError(t, err)
	defer res.Body.Close()

	var snap Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snap))
	assert.Contains(t, snap.Metrics, "prefix.host.requests")
	assert.NotContains(t, snap.Metrics, "prefix.host.other")
}

// TestTriggerPollWithoutPoller verifies the 503 when no poller is attached.
func TestTriggerPollWithoutPoller(t *testing.T) {
	srv := testServer(t, New(nil))

	res, err := http.Post(srv.URL+"/api/poll/", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}
