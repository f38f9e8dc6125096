// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package jaildriver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freebsd-jails/vmadm/internal/jailconfig"
	"github.com/freebsd-jails/vmadm/internal/jdb"
	"github.com/freebsd-jails/vmadm/internal/netconf"
	"github.com/freebsd-jails/vmadm/internal/rctl"
	"github.com/freebsd-jails/vmadm/pkg/execshim"
)

const (
	uuidA = "00000000-0000-0000-0000-000000000001"
	uuidB = "00000000-0000-0000-0000-000000000002"
)

func sampleJail() *jdb.Jail {
	return &jdb.Jail{
		Index: jdb.IndexEntry{
			Version:  1,
			UUID:     uuidA,
			Root:     "zroot/" + uuidA,
			State:    jdb.StateInstalled,
			JailType: "base",
		},
		Config: jailconfig.JailConfig{
			UUID:              uuidA,
			ImageUUID:         uuidB,
			Hostname:          "host-a",
			MaxPhysicalMemory: 1024,
			MaxShmMemory:      1024,
			MaxLockedMemory:   1024,
			CPUCap:            100,
			MaxLwps:           2000,
			NICs: []jailconfig.NIC{{
				Interface: "net0",
				MAC:       "02:00:00:00:00:01",
				NicTag:    "admin",
				IP:        "10.0.0.2",
				Netmask:   "255.255.255.0",
				Gateway:   "10.0.0.1",
				Primary:   true,
			}},
		},
	}
}

func sampleIfaces() []netconf.Iface {
	return []netconf.Iface{{
		Name:        "net0",
		EpairA:      "epair0a",
		EpairB:      "epair0b",
		StartScript: "ifconfig epair0b name net0 && ifconfig net0 inet 10.0.0.2 255.255.255.0 && route add default -gateway 10.0.0.1",
	}}
}

func newDriver(fake *execshim.Fake) *Driver {
	return New(fake, rctl.New(fake), zerolog.Nop())
}

func TestCreateArgs(t *testing.T) {
	args := CreateArgs(sampleJail(), sampleIfaces(), 5)

	prefix := []string{
		"-i", "-c", "persist",
		"name=" + uuidA,
		"path=/zroot/" + uuidA + "/root",
		"host.hostuuid=" + uuidA,
		"host.hostname=host-a",
		"devfs_ruleset=5",
		"securelevel=2",
		"sysvmsg=new",
		"sysvsem=new",
		"sysvshm=new",
		"allow.raw_sockets",
		"children.max=1",
		"vnet=new",
		"vnet.interface=epair0b",
	}
	for i, want := range prefix {
		if args[i] != want {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want)
		}
	}

	last := args[len(args)-1]
	if !strings.HasPrefix(last, "exec.start=ifconfig lo0 up && ") {
		t.Errorf("exec.start should begin with lo0 up, got %q", last)
	}
	if !strings.Contains(last, "ifconfig net0 inet 10.0.0.2 255.255.255.0") {
		t.Errorf("exec.start should carry the NIC fragment, got %q", last)
	}
	if !strings.Contains(last, "jail -c persist name="+uuidA+" host.hostname=host-a path=/jail ip4=inherit") {
		t.Errorf("exec.start should spawn the inner jail, got %q", last)
	}
	if !strings.Contains(last, "exec.start='sh /etc/rc'") {
		t.Errorf("inner jail should run the guest rc, got %q", last)
	}
}

func TestRunningJails(t *testing.T) {
	fake := execshim.NewFake()
	fake.On("1 "+uuidA+"\n2 "+uuidA+"."+uuidA+"\n", "jls", "-q", "jid", "name")

	jails, err := newDriver(fake).RunningJails(context.Background())
	if err != nil {
		t.Fatalf("RunningJails failed: %v", err)
	}
	if len(jails) != 2 {
		t.Fatalf("got %d jails, want 2", len(jails))
	}
	if jails[0].ID != 1 || jails[0].Name != uuidA {
		t.Errorf("outer = %+v", jails[0])
	}
	if jails[1].ID != 2 || jails[1].Name != uuidA+"."+uuidA {
		t.Errorf("inner = %+v", jails[1])
	}
}

func TestStartOrdersEffects(t *testing.T) {
	jail := sampleJail()
	ifaces := sampleIfaces()
	fake := execshim.NewFake()

	for _, rule := range jail.Config.RctlLimits()[1:] {
		fake.On("", "rctl", "-a", rule)
	}
	fake.On("", "mount", "-t", "devfs", "devfs", "/zroot/"+uuidA+"/root/dev")
	fake.On("", "mount", "-t", "devfs", "devfs", "/zroot/"+uuidA+"/root/jail/dev")
	// jail(8) may emit a warning before the jid; the parser must skip it.
	fake.On("jail: unknown parameter ignored\n7\n", "jail", CreateArgs(jail, ifaces, 4)...)
	fake.On("", "ifconfig", "epair0a", "name", "j7:net0")

	jid, err := newDriver(fake).Start(context.Background(), jail, ifaces, 4)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if jid != 7 {
		t.Errorf("jid = %d, want 7", jid)
	}

	var names []string
	for _, inv := range fake.Invocations {
		names = append(names, inv.Name)
	}
	want := []string{"rctl", "rctl", "rctl", "rctl", "rctl", "mount", "mount", "jail", "ifconfig"}
	if strings.Join(names, " ") != strings.Join(want, " ") {
		t.Errorf("effect order = %v, want %v", names, want)
	}
}

func TestStartFailureWalksBack(t *testing.T) {
	jail := sampleJail()
	ifaces := sampleIfaces()
	fake := execshim.NewFake()

	for _, rule := range jail.Config.RctlLimits()[1:] {
		fake.On("", "rctl", "-a", rule)
	}
	fake.On("", "mount", "-t", "devfs", "devfs", "/zroot/"+uuidA+"/root/dev")
	fake.On("", "mount", "-t", "devfs", "devfs", "/zroot/"+uuidA+"/root/jail/dev")
	fake.OnError(errors.New("jail: cannot start"), "jail", CreateArgs(jail, ifaces, 4)...)
	fake.On("", "umount", "/zroot/"+uuidA+"/root/jail/dev")
	fake.On("", "umount", "/zroot/"+uuidA+"/root/dev")
	fake.On("", "rctl", "-r", "jail:"+uuidA)

	_, err := newDriver(fake).Start(context.Background(), jail, ifaces, 4)
	if err == nil {
		t.Fatal("Start should have failed")
	}

	tail := fake.Invocations[len(fake.Invocations)-3:]
	wantTail := []string{
		"umount /zroot/" + uuidA + "/root/jail/dev",
		"umount /zroot/" + uuidA + "/root/dev",
		"rctl -r jail:" + uuidA,
	}
	for i, inv := range tail {
		if inv.String() != wantTail[i] {
			t.Errorf("compensation %d = %q, want %q", i, inv.String(), wantTail[i])
		}
	}
}

func TestStopProtocol(t *testing.T) {
	jail := sampleJail()
	jail.Outer = &jdb.OSRecord{UUID: uuidA, ID: 7}

	fake := execshim.NewFake()
	fake.On("", "jail", "-r", uuidA)
	fake.On("", "umount", "/zroot/"+uuidA+"/root/jail/dev")
	fake.On("", "umount", "/zroot/"+uuidA+"/root/dev")
	fake.On("", "rctl", "-r", "jail:"+uuidA)
	fake.On("", "ifconfig", "j7:net0", "destroy")

	if err := newDriver(fake).Stop(context.Background(), jail); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	want := []string{
		"jail -r " + uuidA,
		"umount /zroot/" + uuidA + "/root/jail/dev",
		"umount /zroot/" + uuidA + "/root/dev",
		"rctl -r jail:" + uuidA,
		"ifconfig j7:net0 destroy",
	}
	if len(fake.Invocations) != len(want) {
		t.Fatalf("invocations = %v", fake.Invocations)
	}
	for i, inv := range fake.Invocations {
		if inv.String() != want[i] {
			t.Errorf("step %d = %q, want %q", i, inv.String(), want[i])
		}
	}
}

func TestStopFailsFastIfJailRemovalFails(t *testing.T) {
	jail := sampleJail()
	fake := execshim.NewFake()
	fake.OnError(errors.New("jail: not found"), "jail", "-r", uuidA)

	if err := newDriver(fake).Stop(context.Background(), jail); err == nil {
		t.Fatal("Stop should surface a failed jail -r")
	}
	if len(fake.Invocations) != 1 {
		t.Errorf("Stop should not continue past a failed jail -r, got %v", fake.Invocations)
	}
}

func TestRestartUsesCombinedFlag(t *testing.T) {
	fake := execshim.NewFake()
	fake.On("", "jail", "-rc", uuidA)

	if err := newDriver(fake).Restart(context.Background(), uuidA); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if fake.Invocations[0].String() != "jail -rc "+uuidA {
		t.Errorf("invocation = %q", fake.Invocations[0].String())
	}
}

func TestStopContinuesPastUnmountFailure(t *testing.T) {
	jail := sampleJail()
	jail.Outer = &jdb.OSRecord{UUID: uuidA, ID: 7}

	fake := execshim.NewFake()
	fake.On("", "jail", "-r", uuidA)
	fake.OnError(errors.New("umount: busy"), "umount", "/zroot/"+uuidA+"/root/jail/dev")
	fake.On("", "umount", "/zroot/"+uuidA+"/root/dev")
	fake.On("", "rctl", "-r", "jail:"+uuidA)
	fake.On("", "ifconfig", "j7:net0", "destroy")

	if err := newDriver(fake).Stop(context.Background(), jail); err != nil {
		t.Fatalf("Stop should tolerate a busy devfs: %v", err)
	}
	if len(fake.Invocations) != 5 {
		t.Errorf("all best-effort steps should still run, got %v", fake.Invocations)
	}
}
