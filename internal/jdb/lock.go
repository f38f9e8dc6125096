// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package jdb

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/freebsd-jails/vmadm/internal/verrors"
)

// flock is an advisory lock on the index: a lockfile created with
// O_EXCL holding the owner's pid. A lockfile whose pid no longer maps
// to a live process is stale and gets broken.
type flock struct {
	path string
}

func acquire(path string) (*flock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &flock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, verrors.Generic("failed_to_create_lockfile", err)
		}

		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, verrors.Generic("failed_to_read_lockfile", rerr)
		}
		pid, perr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if perr == nil && pidAlive(pid) {
			return nil, verrors.Generic(
				fmt.Sprintf("database locked by pid %d (%s)", pid, path), nil)
		}

		// Stale lock: the owner is gone. Break it and retry once.
		if rerr := os.Remove(path); rerr != nil {
			return nil, verrors.Generic("failed_to_remove_stale_lockfile", rerr)
		}
	}

	return nil, verrors.Generic(fmt.Sprintf("could not acquire lock %s", path), nil)
}

func (l *flock) release() {
	_ = os.Remove(l.path)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
