// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config holds the daemon configuration: one package-level Keys
// struct decoded from a JSON file that is validated against the embedded
// schema first.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-optics/pkg/backend"
)

// Format of the configuration (file). See below for the defaults.
type ProgramConfig struct {
	// Address where the http server will listen on (for example:
	// 'localhost:8080').
	Addr string `json:"addr"`

	// Prefix composed into every metric key.
	Prefix string `json:"prefix"`

	// Overrides the hostname segment of every metric key.
	Hostname string `json:"hostname"`

	// Poll frequency as a Go duration string.
	PollFrequency string `json:"poll-frequency"`

	// Labels attached to the root and forwarded to all backends.
	Labels map[string]string `json:"labels"`

	// Dump every cycle to stdout.
	Stdout bool `json:"stdout"`

	// Expose the last cycle on /metrics in prometheus format.
	Prometheus bool `json:"prometheus"`

	// Graphite/Carbon plaintext target.
	Carbon *CarbonConfig `json:"carbon"`

	// NATS publishing target.
	Nats *backend.NatsConfig `json:"nats"`

	// SQLite archive; empty path disables archiving.
	ArchivePath string `json:"archive-path"`

	// Retention of archived samples as a Go duration string. Zero or
	// empty keeps everything.
	ArchiveRetention string `json:"archive-retention"`
}

type CarbonConfig struct {
	Host string `json:"host"`
	Port string `json:"port"`
}

var Keys ProgramConfig = ProgramConfig{
	Addr:          ":8080",
	Prefix:        "optics",
	PollFrequency: "10s",
}

// Init overwrites the defaults with the options from the given file. A
// missing file keeps the defaults; an invalid one aborts.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Abortf("Config Init: Could not read config file '%s'.\nError: %s\n",
				flagConfigFile, err.Error())
		}
		return
	}

	if err := Validate(bytes.NewReader(raw)); err != nil {
		cclog.Abortf("Config Init: Validation of config file '%s' failed.\nError: %s\n",
			flagConfigFile, err.Error())
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Abortf("Config Init: Could not decode config file '%s'.\nError: %s\n",
			flagConfigFile, err.Error())
	}
}
