// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package jailconfig

import (
	"fmt"

	cpuid "github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/mem"
)

// CheckAgainstHost cross-checks the resource fields of a JailConfig
// against what the host actually has. Violations are warnings, not
// validation failures: an oversubscribed cap still starts, rctl just
// throttles it.
func CheckAgainstHost(cfg *JailConfig) []string {
	var warnings []string

	maxCap := uint32(cpuid.CPU.LogicalCores) * 100
	if maxCap > 0 && cfg.CPUCap > maxCap {
		warnings = append(warnings, fmt.Sprintf(
			"cpu_cap %d exceeds host capacity of %d (%d logical cores)",
			cfg.CPUCap, maxCap, cpuid.CPU.LogicalCores))
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		hostMB := vm.Total / (1024 * 1024)
		if cfg.MaxPhysicalMemory > hostMB {
			warnings = append(warnings, fmt.Sprintf(
				"max_physical_memory %dM exceeds host physical memory of %dM",
				cfg.MaxPhysicalMemory, hostMB))
		}
	}

	return warnings
}
