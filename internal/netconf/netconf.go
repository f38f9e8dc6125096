// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package netconf allocates host-side network endpoints for jail NICs.
// For each NIC it creates an epair, attaches the a-half to the bridge
// the nic_tag resolves to, and emits the script fragment that renames
// and addresses the b-half once it lives inside the jail's VNET.
package netconf

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/freebsd-jails/vmadm/internal/jailconfig"
	"github.com/freebsd-jails/vmadm/pkg/execshim"
)

// Iface is one materialized NIC: the host-side epair halves and the
// fragment to run inside the jail's network namespace.
type Iface struct {
	// Name is the guest-visible interface name the NIC asked for.
	Name string
	// EpairA is the host half as ifconfig named it (ends in "a").
	EpairA string
	// EpairB is the jail half, handed to vnet.interface.
	EpairB string
	// StartScript renames and addresses EpairB inside the VNET and,
	// for the primary NIC, installs the default route.
	StartScript string
}

// Bridges resolves a nic_tag to the host bridge it belongs on.
type Bridges interface {
	Bridge(nicTag string) (string, bool)
}

type Configurator struct {
	Runner   execshim.Runner
	Networks Bridges
	Log      zerolog.Logger
}

func New(runner execshim.Runner, networks Bridges, log zerolog.Logger) *Configurator {
	return &Configurator{Runner: runner, Networks: networks, Log: log}
}

// GetIface acquires an epair for nic, wires the a-half into the
// bridge, tags it with the owning jail's uuid and returns the
// descriptor the jail driver consumes.
func (c *Configurator) GetIface(ctx context.Context, nic jailconfig.NIC, jailUUID string) (Iface, error) {
	bridge, ok := c.Networks.Bridge(nic.NicTag)
	if !ok {
		return Iface{}, fmt.Errorf("bridge not configured for nic_tag %q", nic.NicTag)
	}

	out, err := c.Runner.Run(ctx, "ifconfig", "epair", "create", "up")
	if err != nil {
		return Iface{}, fmt.Errorf("failed to create epair: %w", err)
	}

	epairA := strings.TrimSpace(out)
	if !strings.HasSuffix(epairA, "a") {
		return Iface{}, fmt.Errorf("unexpected epair name %q", epairA)
	}
	epairB := strings.TrimSuffix(epairA, "a") + "b"

	if _, err := c.Runner.Run(ctx, "ifconfig", bridge, "addm", epairA); err != nil {
		return Iface{}, fmt.Errorf("failed to add %s to bridge %s: %w", epairA, bridge, err)
	}

	desc := fmt.Sprintf("VNic from jail %s", jailUUID)
	if _, err := c.Runner.Run(ctx, "ifconfig", epairA, "description", desc); err != nil {
		return Iface{}, fmt.Errorf("failed to tag %s: %w", epairA, err)
	}

	c.Log.Debug().Str("epair", epairA).Str("bridge", bridge).Str("jail", jailUUID).
		Msg("acquired epair")

	return Iface{
		Name:        nic.Interface,
		EpairA:      epairA,
		EpairB:      epairB,
		StartScript: startScript(nic, epairB),
	}, nil
}

// startScript builds the fragment run inside the new VNET. The VLAN
// child device has to be created under a `<parent>.<vlan>` name before
// it can be renamed, since ifconfig only accepts vlan devices named
// vlan<N> or <parent>.<N>. The vlandev is always the b-half.
func startScript(nic jailconfig.NIC, epairB string) string {
	var cmds []string

	if nic.VLAN != nil {
		vdev := fmt.Sprintf("%s.%d", epairB, *nic.VLAN)
		cmds = append(cmds,
			fmt.Sprintf("ifconfig %s create vlan %d vlandev %s", vdev, *nic.VLAN, epairB),
			fmt.Sprintf("ifconfig %s name %s", vdev, nic.Interface),
		)
	} else {
		cmds = append(cmds, fmt.Sprintf("ifconfig %s name %s", epairB, nic.Interface))
	}

	cmds = append(cmds, fmt.Sprintf("ifconfig %s inet %s %s", nic.Interface, nic.IP, nic.Netmask))

	if nic.Primary {
		cmds = append(cmds, fmt.Sprintf("route add default -gateway %s", nic.Gateway))
	}

	return strings.Join(cmds, " && ")
}

// HostName is the host-side name an epair a-half gets once its jail is
// up: `j<jid>:<iface>`, so host tooling can attribute endpoints to
// their owning jail.
func HostName(outerJID uint64, iface string) string {
	return fmt.Sprintf("j%d:%s", outerJID, iface)
}

// Release destroys the host half of an iface that was acquired but
// whose jail never started, undoing GetIface.
func (c *Configurator) Release(ctx context.Context, iface Iface) error {
	if _, err := c.Runner.Run(ctx, "ifconfig", iface.EpairA, "destroy"); err != nil {
		return fmt.Errorf("failed to destroy %s: %w", iface.EpairA, err)
	}
	return nil
}
