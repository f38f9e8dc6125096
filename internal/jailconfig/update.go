// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package jailconfig

import "fmt"

// Update is a partial JailConfig plus NIC add/remove/update lists.
type Update struct {
	Alias             *string `json:"alias,omitempty"`
	Hostname          *string `json:"hostname,omitempty"`
	Autostart         *bool   `json:"autostart,omitempty"`
	MaxPhysicalMemory *uint64 `json:"max_physical_memory,omitempty"`
	CPUCap            *uint32 `json:"cpu_cap,omitempty"`
	MaxShmMemory      *uint64 `json:"max_shm_memory,omitempty"`
	MaxLockedMemory   *uint64 `json:"max_locked_memory,omitempty"`
	MaxLwps           *uint32 `json:"max_lwps,omitempty"`

	AddNICs    []NIC    `json:"add_nics,omitempty"`
	RemoveNICs []string `json:"remove_nics,omitempty"` // MAC addresses
	UpdateNICs []NIC    `json:"update_nics,omitempty"` // matched by MAC

	// UUID, ImageUUID and Quota are deliberately absent; updates to
	// them are rejected outright.
}

// ErrImmutableField names an immutable field the update tried to
// touch.
type ErrImmutableField struct{ Field string }

func (e *ErrImmutableField) Error() string {
	return fmt.Sprintf("field %q cannot be updated", e.Field)
}

// RawUpdate is the wire shape accepted from --file/stdin, used only to
// detect an attempt to set one of the three immutable fields before
// decoding into Update (which has no slot for them at all).
type RawUpdate struct {
	UUID      *string `json:"uuid,omitempty"`
	ImageUUID *string `json:"image_uuid,omitempty"`
	Quota     *uint64 `json:"quota,omitempty"`
}

func RejectImmutable(raw RawUpdate) error {
	switch {
	case raw.UUID != nil:
		return &ErrImmutableField{Field: "uuid"}
	case raw.ImageUUID != nil:
		return &ErrImmutableField{Field: "image_uuid"}
	case raw.Quota != nil:
		return &ErrImmutableField{Field: "quota"}
	}
	return nil
}

// Apply is a pure function: for each optional scalar present in u,
// overwrite; drop NICs whose MAC is in RemoveNICs; append AddNICs
// (an added NIC whose MAC is already present replaces that entry);
// apply UpdateNICs by MAC match. Repeated application with the same u
// is idempotent.
func (u Update) Apply(cfg JailConfig) JailConfig {
	out := cfg
	out.NICs = append([]NIC(nil), cfg.NICs...)

	if u.Alias != nil {
		out.Alias = *u.Alias
	}
	if u.Hostname != nil {
		out.Hostname = *u.Hostname
	}
	if u.Autostart != nil {
		out.Autostart = *u.Autostart
	}
	if u.MaxPhysicalMemory != nil {
		out.MaxPhysicalMemory = *u.MaxPhysicalMemory
	}
	if u.CPUCap != nil {
		out.CPUCap = *u.CPUCap
	}
	if u.MaxShmMemory != nil {
		out.MaxShmMemory = *u.MaxShmMemory
	}
	if u.MaxLockedMemory != nil {
		out.MaxLockedMemory = *u.MaxLockedMemory
	}
	if u.MaxLwps != nil {
		out.MaxLwps = *u.MaxLwps
	}

	if len(u.RemoveNICs) > 0 {
		remove := make(map[string]struct{}, len(u.RemoveNICs))
		for _, mac := range u.RemoveNICs {
			remove[mac] = struct{}{}
		}
		kept := out.NICs[:0:0]
		for _, n := range out.NICs {
			if _, drop := remove[n.MAC]; !drop {
				kept = append(kept, n)
			}
		}
		out.NICs = kept
	}

	for _, add := range u.AddNICs {
		replaced := false
		for i := range out.NICs {
			if out.NICs[i].MAC == add.MAC {
				out.NICs[i] = add
				replaced = true
				break
			}
		}
		if !replaced {
			out.NICs = append(out.NICs, add)
		}
	}

	for _, upd := range u.UpdateNICs {
		for i := range out.NICs {
			if out.NICs[i].MAC == upd.MAC {
				out.NICs[i] = upd
				break
			}
		}
	}

	return out
}
