// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package jaildriver

import (
	"fmt"
	"strings"

	"github.com/freebsd-jails/vmadm/internal/jdb"
	"github.com/freebsd-jails/vmadm/internal/netconf"
)

// CreateArgs builds the argument vector for jail(8) that realizes the
// two-level nesting: an outer jail owning the VNET and exactly one
// inner child running the guest rc. jail(8) cannot move interfaces
// into a jail after creation, so every epair b-half is passed as a
// vnet.interface at create time and the startup script addresses them
// before spawning the inner jail.
func CreateArgs(jail *jdb.Jail, ifaces []netconf.Iface, devfsRuleset uint32) []string {
	uuid := jail.Index.UUID
	hostname := jail.Config.Hostname
	path := "/" + jail.Index.Root + "/root"

	args := []string{
		"-i",
		"-c", "persist",
		"name=" + uuid,
		"path=" + path,
		"host.hostuuid=" + uuid,
		"host.hostname=" + hostname,
		fmt.Sprintf("devfs_ruleset=%d", devfsRuleset),
		"securelevel=2",
		"sysvmsg=new",
		"sysvsem=new",
		"sysvshm=new",
		"allow.raw_sockets",
		"children.max=1",
		"vnet=new",
	}

	for _, iface := range ifaces {
		args = append(args, "vnet.interface="+iface.EpairB)
	}

	args = append(args, "exec.start="+startScript(uuid, hostname, ifaces))

	return args
}

// startScript is what the outer jail runs once its VNET exists: bring
// up loopback, run each NIC's fragment, then spawn the inner jail.
func startScript(uuid, hostname string, ifaces []netconf.Iface) string {
	cmds := []string{"ifconfig lo0 up"}

	for _, iface := range ifaces {
		cmds = append(cmds, iface.StartScript)
	}

	cmds = append(cmds, innerCreate(uuid, hostname))

	return strings.Join(cmds, " && ")
}

// innerCreate spawns the child jail. Its name parameter is the same
// uuid; the kernel reports it as `<uuid>.<uuid>` through jls since it
// lives under the outer jail.
func innerCreate(uuid, hostname string) string {
	return strings.Join([]string{
		"jail -c persist",
		"name=" + uuid,
		"host.hostname=" + hostname,
		"path=/jail",
		"ip4=inherit",
		"devfs_ruleset=4",
		"securelevel=2",
		"sysvmsg=new",
		"sysvsem=new",
		"sysvshm=new",
		"allow.raw_sockets",
		"exec.start='sh /etc/rc'",
	}, " ")
}
