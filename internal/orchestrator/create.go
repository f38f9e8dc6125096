// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package orchestrator

import (
	"context"
	"fmt"

	"github.com/freebsd-jails/vmadm/internal/jailconfig"
	"github.com/freebsd-jails/vmadm/internal/jdb"
	"github.com/freebsd-jails/vmadm/internal/rctl"
	"github.com/freebsd-jails/vmadm/internal/saga"
	"github.com/freebsd-jails/vmadm/internal/verrors"
)

// createState is threaded through the create saga so each compensation
// knows what its forward actually produced.
type createState struct {
	cfg      jailconfig.JailConfig
	dataset  string
	entry    *jdb.IndexEntry
	snapshot string
	root     string
}

// Create parses and validates raw, then runs the provisioning saga:
// insert into the database, snapshot the parent image, clone the
// snapshot into the jail's root. A failure at any step compensates the
// completed ones in reverse, leaving the database and the pool as they
// were.
func (e *Env) Create(ctx context.Context, raw []byte) (string, error) {
	cfg, err := jailconfig.Parse(raw, e.Cfg)
	if err != nil {
		return "", err
	}

	for _, warning := range jailconfig.CheckAgainstHost(&cfg) {
		e.Log.Warn().Msg(warning)
	}

	enabled, err := rctl.CheckEnabled(ctx, e.Runner)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "", verrors.Generic("resource limits unavailable: kern.racct.enable is 0 (boot with kern.racct.enable=1)", nil)
	}

	dataset := e.Cfg.Pool + "/" + cfg.ImageUUID
	if !e.Storage.IsPresent(ctx, dataset) {
		return "", verrors.Generic(fmt.Sprintf("image %s is not imported (no dataset %s)", cfg.ImageUUID, dataset), nil)
	}

	sg := saga.New[createState](e.Log).
		Then(saga.Adventure[createState]{
			Name: "insert",
			Forward: func(_ context.Context, s createState) (createState, error) {
				entry, err := e.DB.Insert(s.cfg)
				if err != nil {
					return s, err
				}
				s.entry = &entry
				return s, nil
			},
			Backward: func(_ context.Context, s createState) (createState, error) {
				if s.entry == nil {
					return s, nil
				}
				if _, err := e.DB.Remove(s.cfg.UUID); err != nil && !verrors.IsNotFound(err) {
					return s, err
				}
				s.entry = nil
				return s, nil
			},
		}).
		Then(saga.Adventure[createState]{
			Name: "snapshot",
			Forward: func(ctx context.Context, s createState) (createState, error) {
				if err := e.Storage.Snapshot(ctx, s.dataset, s.cfg.UUID); err != nil {
					return s, err
				}
				s.snapshot = s.dataset + "@" + s.cfg.UUID
				return s, nil
			},
			Backward: func(ctx context.Context, s createState) (createState, error) {
				if s.snapshot == "" {
					return s, nil
				}
				if err := e.Storage.Destroy(ctx, s.snapshot); err != nil {
					return s, err
				}
				s.snapshot = ""
				return s, nil
			},
		}).
		Then(saga.Adventure[createState]{
			Name: "clone",
			Forward: func(ctx context.Context, s createState) (createState, error) {
				if err := e.Storage.Clone(ctx, s.snapshot, s.entry.Root); err != nil {
					return s, err
				}
				s.root = s.entry.Root
				return s, nil
			},
			Backward: func(ctx context.Context, s createState) (createState, error) {
				if s.root == "" {
					return s, nil
				}
				if err := e.Storage.Destroy(ctx, s.root); err != nil {
					return s, err
				}
				s.root = ""
				return s, nil
			},
		})

	if _, err := sg.Tell(ctx, createState{cfg: cfg, dataset: dataset}); err != nil {
		return "", err
	}

	e.Log.Info().Str("uuid", cfg.UUID).Msg("jail created")
	return cfg.UUID, nil
}
