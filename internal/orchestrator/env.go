// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package orchestrator ties the drivers together into the jail
// lifecycle commands: create (as a compensating transaction), delete,
// start, stop, reboot, update, get, list, console and the image
// subcommands.
package orchestrator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/freebsd-jails/vmadm/internal/config"
	"github.com/freebsd-jails/vmadm/internal/imageimport"
	"github.com/freebsd-jails/vmadm/internal/jaildriver"
	"github.com/freebsd-jails/vmadm/internal/jdb"
	"github.com/freebsd-jails/vmadm/internal/netconf"
	"github.com/freebsd-jails/vmadm/internal/rctl"
	"github.com/freebsd-jails/vmadm/internal/storage"
	"github.com/freebsd-jails/vmadm/pkg/execshim"
)

// Env carries every capability a command needs. Tests assemble one
// from fakes; Open assembles the real thing.
type Env struct {
	Cfg     *config.Config
	DB      *jdb.JDB
	Storage *storage.Driver
	Jails   *jaildriver.Driver
	Net     *netconf.Configurator
	Images  *imageimport.Importer
	Runner  execshim.Runner
	Log     zerolog.Logger
}

// Open builds the driver stack over runner and opens the jail
// database. Callers must Close the returned Env.
func Open(ctx context.Context, cfg *config.Config, runner execshim.Runner, log zerolog.Logger) (*Env, error) {
	store := storage.New(runner)
	jails := jaildriver.New(runner, rctl.New(runner), log)

	db, err := jdb.Open(ctx, cfg, jails, log)
	if err != nil {
		return nil, err
	}

	return &Env{
		Cfg:     cfg,
		DB:      db,
		Storage: store,
		Jails:   jails,
		Net:     netconf.New(runner, cfg, log),
		Images:  imageimport.New(cfg, store, log),
		Runner:  runner,
		Log:     log,
	}, nil
}

func (e *Env) Close() {
	if e.DB != nil {
		e.DB.Close()
	}
}
