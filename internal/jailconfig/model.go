// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package jailconfig is the per-jail configuration model: parse,
// default, validate and serialize the JSON config, project it into
// rctl rules, and apply partial updates.
package jailconfig

import (
	"github.com/google/uuid"

	"github.com/freebsd-jails/vmadm/pkg/utils"
)

// NIC is a single network interface descriptor.
type NIC struct {
	Interface string `json:"interface" validate:"required,jail_iface"`
	MAC       string `json:"mac" validate:"required,jail_mac"`
	VLAN      *int   `json:"vlan,omitempty" validate:"omitempty,min=0,max=4095"`
	NicTag    string `json:"nic_tag" validate:"required"`
	IP        string `json:"ip" validate:"required,dotted_quad"`
	Netmask   string `json:"netmask" validate:"required,dotted_quad"`
	Gateway   string `json:"gateway" validate:"required,dotted_quad"`
	Primary   bool   `json:"primary"`
}

// JailConfig is the per-jail configuration persisted at
// <conf_dir>/<uuid>.json. The metadata fields past NICs are
// round-tripped but never affect execution.
type JailConfig struct {
	UUID      string `json:"uuid" validate:"required,uuid"`
	ImageUUID string `json:"image_uuid" validate:"required,uuid"`

	Alias    string `json:"alias" validate:"omitempty,dns_label"`
	Hostname string `json:"hostname" validate:"required,dns_label"`

	Autostart bool `json:"autostart"`

	MaxPhysicalMemory uint64 `json:"max_physical_memory"`
	CPUCap            uint32 `json:"cpu_cap" validate:"required,min=1"`
	Quota             uint64 `json:"quota"`
	MaxShmMemory      uint64 `json:"max_shm_memory"`
	MaxLockedMemory   uint64 `json:"max_locked_memory"`
	MaxLwps           uint32 `json:"max_lwps"`

	NICs []NIC `json:"nics" validate:"dive"`

	ArchiveOnDelete         bool   `json:"archive_on_delete"`
	BillingID               string `json:"billing_id"`
	DoNotInventory          bool   `json:"do_not_inventory"`
	DNSDomain               string `json:"dns_domain"`
	OwnerUUID               string `json:"owner_uuid"`
	PackageName             string `json:"package_name"`
	PackageVersion          string `json:"package_version"`
	Brand                   string `json:"brand"`
	IndestructibleZoneroot  bool   `json:"indestructible_zoneroot"`
	IndestructibleDelegated bool   `json:"indestructible_delegated"`
}

// Default returns a config with every defaultable field filled.
func Default() JailConfig {
	return JailConfig{
		UUID:      uuid.NewString(),
		Autostart: false,
		MaxLwps:   2000,
		NICs:      []NIC{},
		Brand:     "base",
	}
}

// ApplyDefaults fills derived/default fields after JSON unmarshaling:
// a fresh v4 uuid, shm and locked memory falling back to
// max_physical_memory, 2000 lwps.
func (c *JailConfig) ApplyDefaults() {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	if c.MaxShmMemory == 0 {
		c.MaxShmMemory = c.MaxPhysicalMemory
	}
	if c.MaxLockedMemory == 0 {
		c.MaxLockedMemory = c.MaxPhysicalMemory
	}
	if c.MaxLwps == 0 {
		c.MaxLwps = 2000
	}
	if c.NICs == nil {
		c.NICs = []NIC{}
	}
	for i := range c.NICs {
		if c.NICs[i].MAC == "" {
			if mac, err := utils.GenerateRandomMAC(); err == nil {
				c.NICs[i].MAC = mac
			}
		}
	}
}

// PrimaryNIC returns the NIC flagged primary, if any.
func (c *JailConfig) PrimaryNIC() (*NIC, bool) {
	for i := range c.NICs {
		if c.NICs[i].Primary {
			return &c.NICs[i], true
		}
	}
	return nil, false
}
