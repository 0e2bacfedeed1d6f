// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-optics.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package archive persists normalized poll samples into SQLite so that
// short-lived metric history survives restarts and can be queried after the
// fact. The repository doubles as a poller backend: one row per sample per
// cycle, inserted in a single transaction on done.
package archive

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens (and if needed migrates) the archive database. sqlite does
// not multithread; more than one open connection would just mean waiting
// for locks.
func Connect(db string) error {
	var err error

	dbConnOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))

		var dbHandle *sqlx.DB
		dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", db))
		if err != nil {
			return
		}
		dbHandle.SetMaxOpenConns(1)

		if err = checkDBVersion(dbHandle.DB); err != nil {
			return
		}

		dbConnInstance = &DBConnection{DB: dbHandle}
	})

	return err
}

func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		panic("ARCHIVE/DB > database connection not initialized")
	}

	return dbConnInstance
}
