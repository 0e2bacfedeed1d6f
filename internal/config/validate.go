// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchema(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(path.Join(u.Host, strings.TrimPrefix(u.Path, "/")))
}

func init() {
	jsonschema.Loaders["embedfs"] = loadSchema
}

// Validate checks a raw config document against the embedded schema.
func Validate(r io.Reader) error {
	s, err := jsonschema.Compile("embedfs://schemas/config.schema.json")
	if err != nil {
		return fmt.Errorf("error while compiling json schema: %w", err)
	}

	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	return s.Validate(v)
}
