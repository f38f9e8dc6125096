// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package jailconfig

import "fmt"

// RctlLimits projects the resource fields of a JailConfig into
// rctl(8) rule strings, in a fixed order: memoryuse, memorylocked,
// shmsize, pcpu, maxproc.
func (c *JailConfig) RctlLimits() []string {
	return []string{
		"-a",
		fmt.Sprintf("jail:%s:memoryuse:deny=%dM", c.UUID, c.MaxPhysicalMemory),
		fmt.Sprintf("jail:%s:memorylocked:deny=%dM", c.UUID, c.MaxLockedMemory),
		fmt.Sprintf("jail:%s:shmsize:deny=%dM", c.UUID, c.MaxShmMemory),
		fmt.Sprintf("jail:%s:pcpu:deny=%d", c.UUID, c.CPUCap),
		fmt.Sprintf("jail:%s:maxproc:deny=%d", c.UUID, c.MaxLwps),
	}
}
