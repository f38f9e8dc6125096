// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package jaildriver performs the ordered external effects that start
// and stop a jail: resource limits, devfs mounts, the jail(8)
// invocation itself and the host-side epair renames. Start walks its
// completed steps back on failure; stop is best-effort past the jail
// removal.
package jaildriver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/freebsd-jails/vmadm/internal/jdb"
	"github.com/freebsd-jails/vmadm/internal/netconf"
	"github.com/freebsd-jails/vmadm/internal/rctl"
	"github.com/freebsd-jails/vmadm/internal/saga"
	"github.com/freebsd-jails/vmadm/pkg/execshim"
)

type Driver struct {
	Runner execshim.Runner
	Rctl   *rctl.Driver
	Log    zerolog.Logger
}

func New(runner execshim.Runner, rctlDriver *rctl.Driver, log zerolog.Logger) *Driver {
	return &Driver{Runner: runner, Rctl: rctlDriver, Log: log}
}

// RunningJails lists live jails via `jls -q jid name`, one
// `<jid> <name>` pair per line.
func (d *Driver) RunningJails(ctx context.Context) ([]jdb.Running, error) {
	out, err := d.Runner.Run(ctx, "jls", "-q", "jid", "name")
	if err != nil {
		return nil, fmt.Errorf("jls: %w", err)
	}

	var jails []jdb.Running
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("jls: unexpected line %q", line)
		}
		jid, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("jls: bad jid in %q: %w", line, err)
		}
		jails = append(jails, jdb.Running{ID: jid, Name: fields[1]})
	}
	return jails, nil
}

// startState threads the pieces Start accumulates through its steps so
// the walk-back knows what to undo.
type startState struct {
	jail   *jdb.Jail
	ifaces []netconf.Iface
	outer  uint64
}

// Start applies resource limits, mounts the outer and inner devfs,
// creates the nested jail and renames each epair a-half to
// `j<jid>:<iface>`. On failure, completed steps are undone in reverse
// so a half-started jail leaves nothing behind.
func (d *Driver) Start(ctx context.Context, jail *jdb.Jail, ifaces []netconf.Iface, devfsRuleset uint32) (uint64, error) {
	uuid := jail.Index.UUID
	outerDev := "/" + jail.Index.Root + "/root/dev"
	innerDev := "/" + jail.Index.Root + "/root/jail/dev"

	sg := saga.New[startState](d.Log).
		Then(saga.Adventure[startState]{
			Name: "limits",
			Forward: func(ctx context.Context, s startState) (startState, error) {
				return s, d.Rctl.ApplyRules(ctx, s.jail.Config.RctlLimits())
			},
			Backward: func(ctx context.Context, s startState) (startState, error) {
				return s, d.Rctl.RemoveGroup(ctx, uuid)
			},
		}).
		Then(saga.Adventure[startState]{
			Name: "devfs",
			Forward: func(ctx context.Context, s startState) (startState, error) {
				if err := d.mountDevfs(ctx, outerDev); err != nil {
					return s, err
				}
				if err := d.mountDevfs(ctx, innerDev); err != nil {
					_ = d.unmount(ctx, outerDev)
					return s, err
				}
				return s, nil
			},
			Backward: func(ctx context.Context, s startState) (startState, error) {
				_ = d.unmount(ctx, innerDev)
				_ = d.unmount(ctx, outerDev)
				return s, nil
			},
		}).
		Then(saga.Adventure[startState]{
			Name: "jail",
			Forward: func(ctx context.Context, s startState) (startState, error) {
				args := CreateArgs(s.jail, s.ifaces, devfsRuleset)
				out, err := d.Runner.Run(ctx, "jail", args...)
				if err != nil {
					return s, fmt.Errorf("jail -c %s: %w", uuid, err)
				}
				line, ok := execshim.FirstAllDigitsLine(out)
				if !ok {
					return s, fmt.Errorf("jail -c %s: no jid in output %q", uuid, out)
				}
				jid, err := strconv.ParseUint(line, 10, 64)
				if err != nil {
					return s, fmt.Errorf("jail -c %s: bad jid %q: %w", uuid, line, err)
				}
				s.outer = jid
				return s, nil
			},
			Backward: func(ctx context.Context, s startState) (startState, error) {
				if _, err := d.Runner.Run(ctx, "jail", "-r", uuid); err != nil {
					return s, err
				}
				return s, nil
			},
		}).
		Then(saga.Adventure[startState]{
			Name: "epair-names",
			Forward: func(ctx context.Context, s startState) (startState, error) {
				for _, iface := range s.ifaces {
					host := netconf.HostName(s.outer, iface.Name)
					if _, err := d.Runner.Run(ctx, "ifconfig", iface.EpairA, "name", host); err != nil {
						return s, fmt.Errorf("failed to rename %s: %w", iface.EpairA, err)
					}
				}
				return s, nil
			},
			Backward: func(ctx context.Context, s startState) (startState, error) {
				return s, nil
			},
		})

	final, err := sg.Tell(ctx, startState{jail: jail, ifaces: ifaces})
	if err != nil {
		return 0, err
	}

	d.Log.Info().Str("uuid", uuid).Uint64("jid", final.outer).Msg("jail started")
	return final.outer, nil
}

// Stop removes the outer jail by name, then best-effort unwinds the
// devfs mounts, the rctl group and the host-side epair names. Only the
// jail removal itself is fatal.
func (d *Driver) Stop(ctx context.Context, jail *jdb.Jail) error {
	uuid := jail.Index.UUID

	if _, err := d.Runner.Run(ctx, "jail", "-r", uuid); err != nil {
		return fmt.Errorf("jail -r %s: %w", uuid, err)
	}

	innerDev := "/" + jail.Index.Root + "/root/jail/dev"
	outerDev := "/" + jail.Index.Root + "/root/dev"
	if err := d.unmount(ctx, innerDev); err != nil {
		d.Log.Warn().Err(err).Str("path", innerDev).Msg("failed to unmount inner devfs")
	}
	if err := d.unmount(ctx, outerDev); err != nil {
		d.Log.Warn().Err(err).Str("path", outerDev).Msg("failed to unmount outer devfs")
	}

	if err := d.Rctl.RemoveGroup(ctx, uuid); err != nil {
		d.Log.Warn().Err(err).Str("uuid", uuid).Msg("failed to remove rctl group")
	}

	if jail.Outer != nil {
		for _, nic := range jail.Config.NICs {
			host := netconf.HostName(jail.Outer.ID, nic.Interface)
			if _, err := d.Runner.Run(ctx, "ifconfig", host, "destroy"); err != nil {
				d.Log.Warn().Err(err).Str("iface", host).Msg("failed to destroy epair")
			}
		}
	}

	d.Log.Info().Str("uuid", uuid).Msg("jail stopped")
	return nil
}

// Restart uses jail(8)'s combined remove-and-create shortcut.
func (d *Driver) Restart(ctx context.Context, uuid string) error {
	if _, err := d.Runner.Run(ctx, "jail", "-rc", uuid); err != nil {
		return fmt.Errorf("jail -rc %s: %w", uuid, err)
	}
	return nil
}

func (d *Driver) mountDevfs(ctx context.Context, path string) error {
	if _, err := d.Runner.Run(ctx, "mount", "-t", "devfs", "devfs", path); err != nil {
		return fmt.Errorf("mount devfs %s: %w", path, err)
	}
	return nil
}

func (d *Driver) unmount(ctx context.Context, path string) error {
	if _, err := d.Runner.Run(ctx, "umount", path); err != nil {
		return fmt.Errorf("umount %s: %w", path, err)
	}
	return nil
}
