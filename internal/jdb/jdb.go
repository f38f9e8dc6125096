// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package jdb is the durable jail database: an index file mapping uuid
// to dataset root and state, plus one JSON config file per jail in the
// same directory. Every entry has exactly one config file; removing
// either removes the other. All writes go through temp-file-plus-rename
// so a crash never leaves a half-written index.
package jdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freebsd-jails/vmadm/internal/config"
	"github.com/freebsd-jails/vmadm/internal/jailconfig"
	"github.com/freebsd-jails/vmadm/internal/verrors"
	"github.com/freebsd-jails/vmadm/pkg/utils"
)

const indexVersion = 1

type State string

const (
	StateInstalled  State = "installed"
	StateInstalling State = "installing"
)

// IndexEntry is one row of the index file.
type IndexEntry struct {
	Version  int    `json:"version"`
	UUID     string `json:"uuid"`
	Root     string `json:"root"`
	State    State  `json:"state"`
	JailType string `json:"jail_type"`
}

type index struct {
	Version int          `json:"version"`
	Entries []IndexEntry `json:"entries"`
}

// OSRecord identifies a live jail as the kernel reports it.
type OSRecord struct {
	UUID string
	ID   uint64
}

// Jail is the owned runtime view of one jail: the index entry, a copy
// of its config, and the live outer/inner jail ids when running. It
// holds no reference back into the database.
type Jail struct {
	Index  IndexEntry
	Config jailconfig.JailConfig
	Outer  *OSRecord
	Inner  *OSRecord
}

// Running reports whether the kernel currently knows the outer jail.
func (j *Jail) Running() bool { return j.Outer != nil }

// Running is one line of the live-jail enumeration, `<jid> <name>`.
type Running struct {
	ID   uint64
	Name string
}

// RuntimeLister enumerates live OS jails; the jail driver implements it
// over jls(8).
type RuntimeLister interface {
	RunningJails(ctx context.Context) ([]Running, error)
}

// JDB is the open database. It owns an advisory lock on the index for
// the lifetime of the command; Close releases it.
type JDB struct {
	cfg   *config.Config
	log   zerolog.Logger
	idx   index
	outer map[string]OSRecord
	inner map[string]OSRecord
	lock  *flock
}

// Open loads (or creates) the index and concurrently enumerates live
// OS jails to join runtime status. A corrupt index is fatal.
func Open(ctx context.Context, cfg *config.Config, lister RuntimeLister, log zerolog.Logger) (*JDB, error) {
	lock, err := acquire(cfg.IndexPath() + ".lock")
	if err != nil {
		return nil, err
	}

	type liveResult struct {
		jails []Running
		err   error
	}
	liveCh := make(chan liveResult, 1)
	go func() {
		if lister == nil {
			liveCh <- liveResult{}
			return
		}
		jails, err := lister.RunningJails(ctx)
		liveCh <- liveResult{jails: jails, err: err}
	}()

	db := &JDB{
		cfg:   cfg,
		log:   log,
		outer: make(map[string]OSRecord),
		inner: make(map[string]OSRecord),
		lock:  lock,
	}

	raw, err := os.ReadFile(cfg.IndexPath())
	switch {
	case os.IsNotExist(err):
		db.idx = index{Version: indexVersion}
	case err != nil:
		lock.release()
		return nil, verrors.Generic("failed_to_read_index", err)
	default:
		if err := json.Unmarshal(raw, &db.idx); err != nil {
			lock.release()
			return nil, verrors.Generic("failed_to_parse_index", err)
		}
	}

	live := <-liveCh
	if live.err != nil {
		// A failing jls means no runtime join, not a broken database.
		log.Warn().Err(live.err).Msg("could not enumerate running jails")
	}
	for _, r := range live.jails {
		uuid, isInner := classify(r.Name)
		if uuid == "" {
			continue
		}
		rec := OSRecord{UUID: uuid, ID: r.ID}
		if isInner {
			db.inner[uuid] = rec
		} else {
			db.outer[uuid] = rec
		}
	}

	return db, nil
}

// classify splits the two-level naming scheme: `<uuid>` names an outer
// jail, `<uuid>.<uuid>` its inner child. Jails not named by a uuid
// belong to someone else and are ignored.
func classify(name string) (jailUUID string, inner bool) {
	if first, second, ok := strings.Cut(name, "."); ok {
		if first == second && isUUID(first) {
			return first, true
		}
		return "", false
	}
	if !isUUID(name) {
		return "", false
	}
	return name, false
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Close releases the index lock. Safe to call twice.
func (db *JDB) Close() {
	if db.lock != nil {
		db.lock.release()
		db.lock = nil
	}
}

func (db *JDB) find(uuid string) (int, bool) {
	for i, e := range db.idx.Entries {
		if e.UUID == uuid {
			return i, true
		}
	}
	return 0, false
}

// Insert allocates an index entry for cfg, persists the index, then
// writes the per-jail config file. If the config write fails after the
// index was persisted, the in-memory entry is dropped and the index
// rewritten so disk and memory stay consistent.
func (db *JDB) Insert(cfg jailconfig.JailConfig) (IndexEntry, error) {
	if _, ok := db.find(cfg.UUID); ok {
		return IndexEntry{}, verrors.Conflict(cfg.UUID)
	}

	entry := IndexEntry{
		Version:  indexVersion,
		UUID:     cfg.UUID,
		Root:     db.cfg.Pool + "/" + cfg.UUID,
		State:    StateInstalled,
		JailType: "base",
	}

	db.idx.Entries = append(db.idx.Entries, entry)
	if err := db.persistIndex(); err != nil {
		db.idx.Entries = db.idx.Entries[:len(db.idx.Entries)-1]
		return IndexEntry{}, err
	}

	if err := db.writeConfig(cfg); err != nil {
		db.idx.Entries = db.idx.Entries[:len(db.idx.Entries)-1]
		if perr := db.persistIndex(); perr != nil {
			db.log.Error().Err(perr).Msg("failed to rewrite index after config write failure")
		}
		return IndexEntry{}, err
	}

	return entry, nil
}

// Update replaces the config file atomically; the index is unchanged.
// Returns the number of records touched.
func (db *JDB) Update(cfg jailconfig.JailConfig) (int, error) {
	if _, ok := db.find(cfg.UUID); !ok {
		return 0, verrors.NotFound(cfg.UUID)
	}
	if err := db.writeConfig(cfg); err != nil {
		return 0, err
	}
	return 1, nil
}

// Remove deletes the config file, drops the entry and persists the
// index, in that order.
func (db *JDB) Remove(uuid string) (int, error) {
	i, ok := db.find(uuid)
	if !ok {
		return 0, verrors.NotFound(uuid)
	}

	if err := utils.DeleteFile(db.cfg.JailConfigPath(uuid)); err != nil {
		return 0, verrors.Generic("failed_to_delete_jail_config", err)
	}

	db.idx.Entries = append(db.idx.Entries[:i], db.idx.Entries[i+1:]...)
	if err := db.persistIndex(); err != nil {
		return 0, err
	}

	return 1, nil
}

// Get loads the jail's config from disk and joins the live outer and
// inner jail ids.
func (db *JDB) Get(uuid string) (Jail, error) {
	i, ok := db.find(uuid)
	if !ok {
		return Jail{}, verrors.NotFound(uuid)
	}

	raw, err := os.ReadFile(db.cfg.JailConfigPath(uuid))
	if err != nil {
		return Jail{}, verrors.Generic(fmt.Sprintf("failed_to_read_jail_config(%s)", uuid), err)
	}

	var cfg jailconfig.JailConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Jail{}, verrors.Generic(fmt.Sprintf("failed_to_parse_jail_config(%s)", uuid), err)
	}
	cfg.ApplyDefaults()

	jail := Jail{Index: db.idx.Entries[i], Config: cfg}
	if rec, ok := db.outer[uuid]; ok {
		jail.Outer = &OSRecord{UUID: rec.UUID, ID: rec.ID}
	}
	if rec, ok := db.inner[uuid]; ok {
		jail.Inner = &OSRecord{UUID: rec.UUID, ID: rec.ID}
	}

	return jail, nil
}

// Enumerate returns the index entries in insertion order.
func (db *JDB) Enumerate() []IndexEntry {
	out := make([]IndexEntry, len(db.idx.Entries))
	copy(out, db.idx.Entries)
	return out
}

func (db *JDB) persistIndex() error {
	raw, err := json.MarshalIndent(db.idx, "", "  ")
	if err != nil {
		return verrors.Generic("failed_to_marshal_index", err)
	}
	if err := utils.AtomicWriteFile(db.cfg.IndexPath(), raw, 0644); err != nil {
		return verrors.Generic("failed_to_write_index", err)
	}
	return nil
}

func (db *JDB) writeConfig(cfg jailconfig.JailConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return verrors.Generic("failed_to_marshal_jail_config", err)
	}
	if err := utils.AtomicWriteFile(db.cfg.JailConfigPath(cfg.UUID), raw, 0644); err != nil {
		return verrors.Generic("failed_to_write_jail_config", err)
	}
	return nil
}
