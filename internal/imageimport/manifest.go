// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package imageimport

import (
	"encoding/hex"
	"fmt"
)

const (
	CompressionBzip2 = "bzip2"
	CompressionGzip  = "gzip"
)

// ManifestFile describes the single image payload of a manifest.
type ManifestFile struct {
	Size        uint64 `json:"size"`
	Compression string `json:"compression"`
	SHA1        string `json:"sha1"`
}

// Manifest is the image metadata served at <repo>/<uuid> and cached at
// <image_dir>/<uuid>.json after a successful import.
type Manifest struct {
	V           int            `json:"v"`
	UUID        string         `json:"uuid"`
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Type        string         `json:"type"`
	OS          string         `json:"os"`
	Origin      string         `json:"origin,omitempty"`
	Files       []ManifestFile `json:"files"`
	PublishedAt string         `json:"published_at"`
	Public      bool           `json:"public"`
	State       string         `json:"state"`
	Disabled    bool           `json:"disabled"`
}

// Validate rejects a manifest before any download starts: a payload
// must exist, its compression must be one we can decode, and the sha1
// must be a usable hex digest.
func (m *Manifest) Validate() error {
	if len(m.Files) == 0 {
		return fmt.Errorf("manifest %s has no files", m.UUID)
	}

	f := m.Files[0]
	switch f.Compression {
	case CompressionBzip2, CompressionGzip:
	default:
		return fmt.Errorf("unsupported compression %q", f.Compression)
	}

	sum, err := hex.DecodeString(f.SHA1)
	if err != nil || len(sum) != 20 {
		return fmt.Errorf("manifest %s has invalid sha1 %q", m.UUID, f.SHA1)
	}

	return nil
}
