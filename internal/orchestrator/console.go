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
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"

	"github.com/freebsd-jails/vmadm/internal/verrors"
)

// Console attaches an interactive shell to the inner jail, where the
// guest workload runs. The outer jail only owns the network stack and
// has no userland worth a shell.
func (e *Env) Console(ctx context.Context, uuid string) error {
	jail, err := e.DB.Get(uuid)
	if err != nil {
		return err
	}
	if jail.Inner == nil {
		return verrors.Generic(fmt.Sprintf("jail %s is not running", uuid), nil)
	}

	cmd := exec.CommandContext(ctx, "jexec", fmt.Sprintf("%d", jail.Inner.ID), "/bin/csh")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return verrors.Generic("failed_to_start_console", err)
	}
	defer ptmx.Close()

	go func() {
		_, _ = io.Copy(ptmx, os.Stdin)
	}()
	_, _ = io.Copy(os.Stdout, ptmx)

	return cmd.Wait()
}
