// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package rctl is the resource-limit driver: applying the rule set
// internal/jailconfig.JailConfig.RctlLimits projects, tearing it down
// again on stop, and probing whether the kernel has racct accounting
// enabled at all.
package rctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/freebsd-jails/vmadm/pkg/execshim"
)

// Driver applies and removes rctl(8) rules through a Runner.
type Driver struct {
	Runner execshim.Runner
}

func New(runner execshim.Runner) *Driver {
	return &Driver{Runner: runner}
}

// ApplyRules installs every rule in limits, which is expected to be
// the output of JailConfig.RctlLimits (leading "-a" plus one
// "jail:<uuid>:<resource>:deny=<value>" string per rule). Each rule is
// applied with its own rctl invocation: rctl(8) rejects the whole
// batch if any single rule is malformed, and per-rule calls let a
// partial apply be diagnosed precisely.
func (d *Driver) ApplyRules(ctx context.Context, limits []string) error {
	for _, rule := range limits {
		if rule == "-a" {
			continue
		}
		if _, err := d.Runner.Run(ctx, "rctl", "-a", rule); err != nil {
			return fmt.Errorf("rctl -a %s: %w", rule, err)
		}
	}
	return nil
}

// RemoveGroup drops every rctl rule scoped to the given jail.
func (d *Driver) RemoveGroup(ctx context.Context, uuid string) error {
	_, err := d.Runner.Run(ctx, "rctl", "-r", "jail:"+uuid)
	if err != nil && !strings.Contains(err.Error(), "No such process") {
		return fmt.Errorf("rctl -r jail:%s: %w", uuid, err)
	}
	return nil
}

// Usage parses the rctl -u output for a jail, one "resource=value"
// pair per line, into a map from resource to value.
func (d *Driver) Usage(ctx context.Context, uuid string) (map[string]string, error) {
	out, err := d.Runner.Run(ctx, "rctl", "-u", "jail:"+uuid)
	if err != nil {
		return nil, fmt.Errorf("rctl -u jail:%s: %w", uuid, err)
	}

	usage := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		usage[k] = v
	}
	return usage, nil
}

// CheckEnabled probes kern.racct.enable before anything touches rctl.
// Resource limits are gated behind the racct(9) compile option plus
// that sysctl, and rctl(8) fails cryptically when it's off; a named
// precondition lets create fail fast with an actionable message.
func CheckEnabled(ctx context.Context, runner execshim.Runner) (bool, error) {
	out, err := runner.Run(ctx, "sysctl", "-n", "kern.racct.enable")
	if err != nil {
		return false, fmt.Errorf("sysctl kern.racct.enable: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false, fmt.Errorf("sysctl kern.racct.enable: unexpected output %q", out)
	}
	return v != 0, nil
}
