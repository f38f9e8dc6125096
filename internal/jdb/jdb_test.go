// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package jdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freebsd-jails/vmadm/internal/config"
	"github.com/freebsd-jails/vmadm/internal/jailconfig"
	"github.com/freebsd-jails/vmadm/internal/verrors"
)

const (
	uuidA = "00000000-0000-0000-0000-000000000001"
	uuidB = "00000000-0000-0000-0000-000000000002"
)

type staticLister struct {
	jails []Running
}

func (s staticLister) RunningJails(_ context.Context) ([]Running, error) {
	return s.jails, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Pool:     "zroot",
		ConfDir:  t.TempDir(),
		Networks: map[string]string{"admin": "bridge0"},
	}
}

func mustOpen(t *testing.T, cfg *config.Config, lister RuntimeLister) *JDB {
	t.Helper()
	db, err := Open(context.Background(), cfg, lister, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func sampleConfig(uuid string) jailconfig.JailConfig {
	cfg := jailconfig.Default()
	cfg.UUID = uuid
	cfg.ImageUUID = uuidB
	cfg.Hostname = "host-a"
	cfg.Alias = "a"
	cfg.MaxPhysicalMemory = 1024
	cfg.CPUCap = 100
	cfg.ApplyDefaults()
	return cfg
}

func TestInsertPersistsEntryAndConfig(t *testing.T) {
	cfg := testConfig(t)
	db := mustOpen(t, cfg, nil)

	entry, err := db.Insert(sampleConfig(uuidA))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if entry.Root != "zroot/"+uuidA {
		t.Errorf("root = %q, want zroot/%s", entry.Root, uuidA)
	}
	if entry.State != StateInstalled {
		t.Errorf("state = %q, want installed", entry.State)
	}

	if _, err := os.Stat(cfg.JailConfigPath(uuidA)); err != nil {
		t.Errorf("config file missing: %v", err)
	}
	if _, err := os.Stat(cfg.IndexPath()); err != nil {
		t.Errorf("index file missing: %v", err)
	}
}

func TestInsertDuplicateIsConflictAndLeavesDiskUntouched(t *testing.T) {
	cfg := testConfig(t)
	db := mustOpen(t, cfg, nil)

	if _, err := db.Insert(sampleConfig(uuidA)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	before, err := os.ReadFile(cfg.IndexPath())
	if err != nil {
		t.Fatal(err)
	}

	_, err = db.Insert(sampleConfig(uuidA))
	if !verrors.IsConflict(err) {
		t.Fatalf("duplicate insert = %v, want Conflict", err)
	}

	after, err := os.ReadFile(cfg.IndexPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("index changed by a conflicting insert")
	}
}

func TestRemoveDropsEntryAndConfigFile(t *testing.T) {
	cfg := testConfig(t)
	db := mustOpen(t, cfg, nil)

	if _, err := db.Insert(sampleConfig(uuidA)); err != nil {
		t.Fatal(err)
	}

	n, err := db.Remove(uuidA)
	if err != nil || n != 1 {
		t.Fatalf("Remove = (%d, %v), want (1, nil)", n, err)
	}

	if _, err := os.Stat(cfg.JailConfigPath(uuidA)); !os.IsNotExist(err) {
		t.Errorf("config file still exists after Remove")
	}
	if len(db.Enumerate()) != 0 {
		t.Errorf("index still has entries after Remove")
	}

	if _, err := db.Remove(uuidA); !verrors.IsNotFound(err) {
		t.Errorf("second Remove = %v, want NotFound", err)
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)

	db := mustOpen(t, cfg, nil)
	if _, err := db.Insert(sampleConfig(uuidA)); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2 := mustOpen(t, cfg, nil)
	entries := db2.Enumerate()
	if len(entries) != 1 || entries[0].UUID != uuidA {
		t.Fatalf("reopened entries = %+v, want one entry for %s", entries, uuidA)
	}

	jail, err := db2.Get(uuidA)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if jail.Config.Hostname != "host-a" {
		t.Errorf("hostname = %q, want host-a", jail.Config.Hostname)
	}
}

func TestGetJoinsInnerAndOuterRecords(t *testing.T) {
	cfg := testConfig(t)
	lister := staticLister{jails: []Running{
		{ID: 1, Name: uuidA},
		{ID: 2, Name: uuidA + "." + uuidA},
		{ID: 7, Name: "someone-elses-jail"},
	}}
	db := mustOpen(t, cfg, lister)

	if _, err := db.Insert(sampleConfig(uuidA)); err != nil {
		t.Fatal(err)
	}

	jail, err := db.Get(uuidA)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if jail.Outer == nil || jail.Outer.ID != 1 {
		t.Errorf("outer = %+v, want id 1", jail.Outer)
	}
	if jail.Inner == nil || jail.Inner.ID != 2 {
		t.Errorf("inner = %+v, want id 2", jail.Inner)
	}
	if !jail.Running() {
		t.Error("jail should report running")
	}
}

func TestUpdateReplacesConfigOnly(t *testing.T) {
	cfg := testConfig(t)
	db := mustOpen(t, cfg, nil)

	jcfg := sampleConfig(uuidA)
	if _, err := db.Insert(jcfg); err != nil {
		t.Fatal(err)
	}
	indexBefore, _ := os.ReadFile(cfg.IndexPath())

	jcfg.Hostname = "host-b"
	n, err := db.Update(jcfg)
	if err != nil || n != 1 {
		t.Fatalf("Update = (%d, %v), want (1, nil)", n, err)
	}

	jail, err := db.Get(uuidA)
	if err != nil {
		t.Fatal(err)
	}
	if jail.Config.Hostname != "host-b" {
		t.Errorf("hostname = %q, want host-b", jail.Config.Hostname)
	}

	indexAfter, _ := os.ReadFile(cfg.IndexPath())
	if string(indexBefore) != string(indexAfter) {
		t.Error("Update touched the index")
	}

	other := sampleConfig(uuidB)
	if _, err := db.Update(other); !verrors.IsNotFound(err) {
		t.Errorf("Update of unknown uuid = %v, want NotFound", err)
	}
}

func TestOpenRefusesCorruptIndex(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.IndexPath(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(context.Background(), cfg, nil, zerolog.Nop())
	if err == nil {
		t.Fatal("Open should refuse a corrupt index")
	}
}

func TestLockBlocksSecondOpen(t *testing.T) {
	cfg := testConfig(t)
	db := mustOpen(t, cfg, nil)
	_ = db

	if _, err := Open(context.Background(), cfg, nil, zerolog.Nop()); err == nil {
		t.Fatal("second Open should fail while the lock is held")
	}
}

func TestStaleLockIsBroken(t *testing.T) {
	cfg := testConfig(t)
	lockPath := filepath.Join(cfg.ConfDir, "index.lock")
	// Pid 0 never names a live process we own.
	if err := os.WriteFile(lockPath, []byte("0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	db, err := Open(context.Background(), cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open should break a stale lock: %v", err)
	}
	db.Close()
}
