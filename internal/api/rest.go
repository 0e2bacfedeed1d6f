// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the latest completed poll cycle over REST. The api
// doubles as a poller backend: metric events accumulate into a pending
// snapshot that is swapped in atomically on done, so readers always see one
// consistent cycle.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-optics/pkg/optics"
	"github.com/gorilla/mux"
)

type RestApi struct {
	// Poller is optional; when set, POST /api/poll/ triggers a manual
	// cycle.
	Poller *optics.Poller

	mu             sync.RWMutex
	pending        map[string]Sample
	pendingTs      optics.Ts
	pendingElapsed optics.Ts
	current        Snapshot
}

// Sample is one normalized scalar of a poll cycle.
type Sample struct {
	Value float64   `json:"value"`
	Type  string    `json:"type"`
	Ts    optics.Ts `json:"ts"`
}

// Snapshot is one completed cycle keyed by the full prefix.host.key names.
type Snapshot struct {
	Ts      optics.Ts         `json:"ts"`
	Elapsed optics.Ts         `json:"elapsed"`
	Metrics map[string]Sample `json:"metrics"`
}

type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func New(poller *optics.Poller) *RestApi {
	return &RestApi{
		Poller:  poller,
		pending: map[string]Sample{},
		current: Snapshot{Metrics: map[string]Sample{}},
	}
}

func (api *RestApi) MountRoutes(r *mux.Router) {
	r = r.PathPrefix("/api").Subrouter()
	r.StrictSlash(true)

	r.HandleFunc("/metrics/", api.getMetrics).Methods(http.MethodGet)
	r.HandleFunc("/metrics/{key}", api.getMetric).Methods(http.MethodGet)
	r.HandleFunc("/poll/", api.triggerPoll).Methods(http.MethodPost)
}

// Record implements the poller backend contract. The poller calls it one
// cycle at a time; only the swap on done takes the snapshot lock.
func (api *RestApi) Record(event optics.Event, poll *optics.Poll) {
	switch event {
	case optics.EventBegin:
		api.pending = map[string]Sample{}

	case optics.EventMetric:
		poll.Normalize(func(ts optics.Ts, key string, value float64) bool {
			var k optics.Key
			k.Push(poll.Prefix)
			k.Push(poll.Host)
			k.Push(key)

			api.pending[k.String()] = Sample{
				Value: value,
				Type:  poll.Type.String(),
				Ts:    ts,
			}
			return true
		})
		api.pendingTs, api.pendingElapsed = poll.Ts, poll.Elapsed

	case optics.EventDone:
		api.mu.Lock()
		api.current.Metrics = api.pending
		api.current.Ts = api.pendingTs
		api.current.Elapsed = api.pendingElapsed
		api.mu.Unlock()
		api.pending = map[string]Sample{}
	}
}

func (api *RestApi) Close() {}

func (api *RestApi) getMetrics(rw http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()

	rw.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(api.current); err != nil {
		cclog.Warnf("REST ERROR : %s", err.Error())
	}
}

func (api *RestApi) getMetric(rw http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	api.mu.RLock()
	sample, ok := api.current.Metrics[key]
	api.mu.RUnlock()

	if !ok {
		handleError(fmt.Errorf("unknown metric '%s'", key), http.StatusNotFound, rw)
		return
	}

	rw.Header().Add("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(sample)
}

func (api *RestApi) triggerPoll(rw http.ResponseWriter, r *http.Request) {
	if api.Poller == nil {
		handleError(fmt.Errorf("no poller attached"), http.StatusServiceUnavailable, rw)
		return
	}

	if !api.Poller.Poll() {
		handleError(fmt.Errorf("poll cycle failed"), http.StatusInternalServerError, rw)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	cclog.Warnf("REST ERROR : %s", err.Error())
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}
