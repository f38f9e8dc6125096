// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package imageimport pulls images into the pool: fetch the manifest,
// recursively import the origin chain, download the payload, check its
// digest and actual format, then stream it through the declared
// decompressor into zfs receive.
package imageimport

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cavaliergopher/grab/v3"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"github.com/rs/zerolog"

	"github.com/freebsd-jails/vmadm/internal/config"
	"github.com/freebsd-jails/vmadm/internal/storage"
	"github.com/freebsd-jails/vmadm/internal/verrors"
	"github.com/freebsd-jails/vmadm/pkg/utils"
)

// maxOriginDepth bounds the parent-image chain so a cyclic or absurd
// origin graph fails instead of recursing forever.
const maxOriginDepth = 16

type Importer struct {
	Cfg     *config.Config
	Storage *storage.Driver
	HTTP    *http.Client
	Grab    *grab.Client
	Log     zerolog.Logger
}

func New(cfg *config.Config, store *storage.Driver, log zerolog.Logger) *Importer {
	return &Importer{
		Cfg:     cfg,
		Storage: store,
		HTTP:    http.DefaultClient,
		Grab:    grab.NewClient(),
		Log:     log,
	}
}

// Import fetches the manifest for uuid and materializes
// <pool>/<uuid>, importing parents first.
func (i *Importer) Import(ctx context.Context, uuid string) error {
	return i.importAtDepth(ctx, uuid, 0)
}

func (i *Importer) importAtDepth(ctx context.Context, uuid string, depth int) error {
	if depth > maxOriginDepth {
		return verrors.Generic(fmt.Sprintf("origin chain deeper than %d at %s", maxOriginDepth, uuid), nil)
	}

	manifest, err := i.FetchManifest(ctx, uuid)
	if err != nil {
		return err
	}
	if err := manifest.Validate(); err != nil {
		return verrors.Generic("invalid manifest", err)
	}

	dataset := i.Cfg.Pool + "/" + uuid
	if i.Storage.IsPresent(ctx, dataset) {
		i.Log.Debug().Str("dataset", dataset).Msg("image already present, skipping")
		return nil
	}

	if manifest.Origin != "" {
		i.Log.Info().Str("uuid", uuid).Str("origin", manifest.Origin).Msg("importing parent image")
		if err := i.importAtDepth(ctx, manifest.Origin, depth+1); err != nil {
			return fmt.Errorf("importing origin %s: %w", manifest.Origin, err)
		}
	}

	body, err := i.download(ctx, manifest)
	if err != nil {
		return err
	}
	defer func() {
		body.Close()
		os.Remove(body.Name())
	}()

	if err := i.receive(ctx, manifest, body, dataset); err != nil {
		// Never leave a half-received dataset behind. The destroy is
		// best-effort: if the receive died before creating anything,
		// there is nothing to remove and zfs just says so.
		if derr := i.Storage.Destroy(ctx, dataset); derr != nil {
			i.Log.Debug().Err(derr).Str("dataset", dataset).Msg("partial dataset cleanup")
		}
		return err
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return verrors.Generic("failed_to_marshal_manifest", err)
	}
	if err := utils.AtomicWriteFile(i.Cfg.ImageManifestPath(uuid), raw, 0644); err != nil {
		return verrors.Generic("failed_to_write_manifest", err)
	}

	i.Log.Info().Str("uuid", uuid).Str("dataset", dataset).Msg("image imported")
	return nil
}

// FetchManifest GETs <repo>/<uuid>.
func (i *Importer) FetchManifest(ctx context.Context, uuid string) (Manifest, error) {
	url := i.Cfg.Repo + "/" + uuid
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Manifest{}, verrors.Generic("failed_to_build_request", err)
	}

	resp, err := i.HTTP.Do(req)
	if err != nil {
		return Manifest{}, verrors.Generic(fmt.Sprintf("failed_to_fetch_manifest(%s)", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Manifest{}, verrors.Generic(fmt.Sprintf("manifest fetch %s returned %s", url, resp.Status), nil)
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Manifest{}, verrors.Generic("failed_to_parse_manifest", err)
	}
	return m, nil
}

// Avail GETs the repo root and returns every published manifest.
func (i *Importer) Avail(ctx context.Context) ([]Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.Cfg.Repo, nil)
	if err != nil {
		return nil, verrors.Generic("failed_to_build_request", err)
	}

	resp, err := i.HTTP.Do(req)
	if err != nil {
		return nil, verrors.Generic("failed_to_fetch_image_list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, verrors.Generic(fmt.Sprintf("image list fetch returned %s", resp.Status), nil)
	}

	var manifests []Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifests); err != nil {
		return nil, verrors.Generic("failed_to_parse_image_list", err)
	}
	return manifests, nil
}

// download pulls <repo>/<uuid>/file to a temp file next to the
// manifest cache. grab verifies the declared sha1 as it streams and
// deletes the file on mismatch, so a corrupt payload never reaches
// zfs receive.
func (i *Importer) download(ctx context.Context, m Manifest) (*os.File, error) {
	url := i.Cfg.Repo + "/" + m.UUID + "/file"
	dst := filepath.Join(i.Cfg.ImageDir, ".download-"+m.UUID)

	req, err := grab.NewRequest(dst, url)
	if err != nil {
		return nil, verrors.Generic("failed_to_build_download_request", err)
	}
	req = req.WithContext(ctx)

	sum, err := hex.DecodeString(m.Files[0].SHA1)
	if err != nil {
		return nil, verrors.Generic("invalid manifest sha1", err)
	}
	req.SetChecksum(sha1.New(), sum, true)

	resp := i.Grab.Do(req)
	if err := resp.Err(); err != nil {
		os.Remove(dst)
		return nil, verrors.Generic(fmt.Sprintf("failed_to_download_image(%s)", url), err)
	}

	if err := checkFormat(dst, m.Files[0].Compression); err != nil {
		os.Remove(dst)
		return nil, err
	}

	f, err := os.Open(dst)
	if err != nil {
		os.Remove(dst)
		return nil, verrors.Generic("failed_to_open_downloaded_image", err)
	}
	return f, nil
}

// checkFormat sniffs the payload's actual magic bytes and refuses a
// file whose format contradicts the manifest's declared compression.
func checkFormat(path, compression string) error {
	kind, err := filetype.MatchFile(path)
	if err != nil {
		return verrors.Generic("failed_to_sniff_image_format", err)
	}

	want := matchers.TypeGz
	if compression == CompressionBzip2 {
		want = matchers.TypeBz2
	}

	if kind != want {
		return verrors.Generic(fmt.Sprintf(
			"image payload is %q but manifest declares %s", kind.Extension, compression), nil)
	}
	return nil
}

// receive decompresses body and streams it into zfs receive.
func (i *Importer) receive(ctx context.Context, m Manifest, body io.ReadSeeker, dataset string) error {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return verrors.Generic("failed_to_rewind_image", err)
	}

	var decoded io.Reader
	switch m.Files[0].Compression {
	case CompressionBzip2:
		decoded = bzip2.NewReader(body)
	case CompressionGzip:
		gz, err := gzip.NewReader(body)
		if err != nil {
			return verrors.Generic("failed_to_open_gzip_stream", err)
		}
		defer gz.Close()
		decoded = gz
	default:
		return verrors.Generic(fmt.Sprintf("unsupported compression %q", m.Files[0].Compression), nil)
	}

	if err := i.Storage.Receive(ctx, dataset, decoded); err != nil {
		return err
	}
	return nil
}
