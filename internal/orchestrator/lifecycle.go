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
	"encoding/json"
	"fmt"

	"github.com/freebsd-jails/vmadm/internal/jailconfig"
	"github.com/freebsd-jails/vmadm/internal/jdb"
	"github.com/freebsd-jails/vmadm/internal/netconf"
	"github.com/freebsd-jails/vmadm/internal/verrors"
)

// Start acquires an epair per NIC and hands the jail to the driver.
// Endpoints acquired before a failure are released again.
func (e *Env) Start(ctx context.Context, uuid string) (uint64, error) {
	jail, err := e.DB.Get(uuid)
	if err != nil {
		return 0, err
	}
	if jail.Running() {
		return 0, verrors.Generic(fmt.Sprintf("jail %s is already running", uuid), nil)
	}

	var ifaces []netconf.Iface
	release := func() {
		for _, iface := range ifaces {
			if rerr := e.Net.Release(ctx, iface); rerr != nil {
				e.Log.Warn().Err(rerr).Str("epair", iface.EpairA).Msg("failed to release epair")
			}
		}
	}

	for _, nic := range jail.Config.NICs {
		iface, err := e.Net.GetIface(ctx, nic, uuid)
		if err != nil {
			release()
			return 0, err
		}
		ifaces = append(ifaces, iface)
	}

	jid, err := e.Jails.Start(ctx, &jail, ifaces, e.Cfg.DevfsRuleset)
	if err != nil {
		release()
		return 0, err
	}

	return jid, nil
}

// Stop tears the jail down; only a failing jail removal is fatal.
func (e *Env) Stop(ctx context.Context, uuid string) error {
	jail, err := e.DB.Get(uuid)
	if err != nil {
		return err
	}
	if !jail.Running() {
		return verrors.Generic(fmt.Sprintf("jail %s is not running", uuid), nil)
	}

	return e.Jails.Stop(ctx, &jail)
}

// Reboot is stop followed by start.
func (e *Env) Reboot(ctx context.Context, uuid string) (uint64, error) {
	if err := e.Stop(ctx, uuid); err != nil {
		return 0, err
	}

	// The database joined runtime state at open; after the stop the
	// outer jail is gone, so re-read and start from the stopped view.
	jail, err := e.DB.Get(uuid)
	if err != nil {
		return 0, err
	}
	jail.Outer = nil
	jail.Inner = nil

	var ifaces []netconf.Iface
	for _, nic := range jail.Config.NICs {
		iface, err := e.Net.GetIface(ctx, nic, uuid)
		if err != nil {
			return 0, err
		}
		ifaces = append(ifaces, iface)
	}

	return e.Jails.Start(ctx, &jail, ifaces, e.Cfg.DevfsRuleset)
}

// Delete stops the jail if running, destroys its root dataset and the
// snapshot the root was cloned from, and removes it from the database.
// With force, a failing stop is logged and the teardown continues.
func (e *Env) Delete(ctx context.Context, uuid string, force bool) error {
	jail, err := e.DB.Get(uuid)
	if err != nil {
		return err
	}

	if jail.Running() {
		if err := e.Jails.Stop(ctx, &jail); err != nil {
			if !force {
				return err
			}
			e.Log.Warn().Err(err).Str("uuid", uuid).Msg("stop failed, continuing under --force")
		}
	}

	root := jail.Index.Root

	// The origin has to be read before the clone is destroyed.
	origin, err := e.Storage.Origin(ctx, root)
	if err != nil {
		e.Log.Warn().Err(err).Str("dataset", root).Msg("could not read origin")
		origin = ""
	}

	if err := e.Storage.Destroy(ctx, root); err != nil {
		if !force {
			return err
		}
		e.Log.Warn().Err(err).Str("dataset", root).Msg("destroy failed, continuing under --force")
	}

	if origin != "" {
		if err := e.Storage.Destroy(ctx, origin); err != nil {
			e.Log.Warn().Err(err).Str("snapshot", origin).Msg("failed to destroy origin snapshot")
		}
	}

	if _, err := e.DB.Remove(uuid); err != nil {
		return err
	}

	e.Log.Info().Str("uuid", uuid).Msg("jail deleted")
	return nil
}

// Update applies a partial config to the stored one and persists the
// result. uuid, image_uuid and quota are immutable.
func (e *Env) Update(ctx context.Context, uuid string, raw []byte) error {
	var immutable jailconfig.RawUpdate
	if err := json.Unmarshal(raw, &immutable); err != nil {
		return verrors.Generic("failed_to_parse_update", err)
	}
	if err := jailconfig.RejectImmutable(immutable); err != nil {
		return err
	}

	var upd jailconfig.Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return verrors.Generic("failed_to_parse_update", err)
	}

	jail, err := e.DB.Get(uuid)
	if err != nil {
		return err
	}

	next := upd.Apply(jail.Config)
	if err := jailconfig.Validate(&next, e.Cfg); err != nil {
		return err
	}

	if _, err := e.DB.Update(next); err != nil {
		return err
	}

	e.Log.Info().Str("uuid", uuid).Msg("jail updated")
	return nil
}

// Get returns the owned runtime view of one jail.
func (e *Env) Get(uuid string) (jdb.Jail, error) {
	return e.DB.Get(uuid)
}

// List returns every jail with its runtime state joined.
func (e *Env) List() ([]jdb.Jail, error) {
	var jails []jdb.Jail
	for _, entry := range e.DB.Enumerate() {
		jail, err := e.DB.Get(entry.UUID)
		if err != nil {
			return nil, err
		}
		jails = append(jails, jail)
	}
	return jails, nil
}
