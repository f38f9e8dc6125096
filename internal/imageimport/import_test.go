// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package imageimport

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/cavaliergopher/grab/v3"
	"github.com/rs/zerolog"

	"github.com/freebsd-jails/vmadm/internal/config"
	"github.com/freebsd-jails/vmadm/internal/storage"
	"github.com/freebsd-jails/vmadm/pkg/execshim"
)

const (
	childUUID  = "00000000-0000-0000-0000-0000000000aa"
	parentUUID = "00000000-0000-0000-0000-0000000000bb"
)

func gzipBytes(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// repoServer serves manifests at /<uuid> and payloads at /<uuid>/file.
func repoServer(t *testing.T, manifests map[string]Manifest, bodies map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if uuid, ok := strings.CutSuffix(path, "/file"); ok {
			body, found := bodies[uuid]
			if !found {
				http.NotFound(w, r)
				return
			}
			w.Write(body)
			return
		}
		m, found := manifests[path]
		if !found {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(m)
	}))
}

func newImporter(t *testing.T, repo string, fake *execshim.Fake) *Importer {
	t.Helper()
	cfg := &config.Config{
		Pool:     "zroot",
		Repo:     repo,
		ImageDir: t.TempDir(),
	}
	return &Importer{
		Cfg:     cfg,
		Storage: storage.New(fake),
		HTTP:    http.DefaultClient,
		Grab:    grab.NewClient(),
		Log:     zerolog.Nop(),
	}
}

func manifestFor(uuid, origin string, body []byte) Manifest {
	return Manifest{
		V:           2,
		UUID:        uuid,
		Name:        "test-image",
		Version:     "1.0.0",
		Type:        "jail-dataset",
		OS:          "freebsd",
		Origin:      origin,
		Files:       []ManifestFile{{Size: uint64(len(body)), Compression: CompressionGzip, SHA1: sha1Hex(body)}},
		PublishedAt: "2024-01-01T00:00:00Z",
		Public:      true,
		State:       "active",
	}
}

func TestImportRecursesIntoOriginFirst(t *testing.T) {
	parentBody := gzipBytes(t, "parent-stream")
	childBody := gzipBytes(t, "child-stream")

	srv := repoServer(t,
		map[string]Manifest{
			childUUID:  manifestFor(childUUID, parentUUID, childBody),
			parentUUID: manifestFor(parentUUID, "", parentBody),
		},
		map[string][]byte{childUUID: childBody, parentUUID: parentBody},
	)
	defer srv.Close()

	fake := execshim.NewFake()
	fake.On("", "zfs", "receive", "zroot/"+parentUUID)
	fake.On("", "zfs", "receive", "zroot/"+childUUID)

	imp := newImporter(t, srv.URL, fake)
	if err := imp.Import(context.Background(), childUUID); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	var receives []execshim.Invocation
	for _, inv := range fake.Invocations {
		if len(inv.Args) > 0 && inv.Args[0] == "receive" {
			receives = append(receives, inv)
		}
	}
	if len(receives) != 2 {
		t.Fatalf("got %d receives, want 2: %v", len(receives), fake.Invocations)
	}
	if receives[0].Args[1] != "zroot/"+parentUUID {
		t.Errorf("parent should be received first, got %v", receives[0].Args)
	}
	if receives[0].Stdin != "parent-stream" {
		t.Errorf("parent stream = %q, want decompressed payload", receives[0].Stdin)
	}
	if receives[1].Stdin != "child-stream" {
		t.Errorf("child stream = %q, want decompressed payload", receives[1].Stdin)
	}

	for _, uuid := range []string{parentUUID, childUUID} {
		raw, err := os.ReadFile(imp.Cfg.ImageManifestPath(uuid))
		if err != nil {
			t.Fatalf("manifest not cached for %s: %v", uuid, err)
		}
		var m Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("cached manifest unparseable: %v", err)
		}
		if m.UUID != uuid {
			t.Errorf("cached manifest uuid = %q, want %q", m.UUID, uuid)
		}
	}
}

func TestImportSkipsPresentDataset(t *testing.T) {
	body := gzipBytes(t, "data")
	srv := repoServer(t,
		map[string]Manifest{parentUUID: manifestFor(parentUUID, "", body)},
		map[string][]byte{parentUUID: body},
	)
	defer srv.Close()

	fake := execshim.NewFake()
	fake.On("zroot/"+parentUUID, "zfs", "list", "-H", "zroot/"+parentUUID)

	imp := newImporter(t, srv.URL, fake)
	if err := imp.Import(context.Background(), parentUUID); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	for _, inv := range fake.Invocations {
		if len(inv.Args) > 0 && inv.Args[0] == "receive" {
			t.Errorf("present dataset should not be received again: %v", inv)
		}
	}
}

func TestImportRejectsUnsupportedCompression(t *testing.T) {
	body := gzipBytes(t, "data")
	m := manifestFor(parentUUID, "", body)
	m.Files[0].Compression = "xz"

	srv := repoServer(t,
		map[string]Manifest{parentUUID: m},
		map[string][]byte{parentUUID: body},
	)
	defer srv.Close()

	imp := newImporter(t, srv.URL, execshim.NewFake())
	err := imp.Import(context.Background(), parentUUID)
	if err == nil || !strings.Contains(err.Error(), "unsupported compression") {
		t.Fatalf("err = %v, want unsupported compression", err)
	}
}

func TestImportRefusesDigestMismatch(t *testing.T) {
	body := gzipBytes(t, "data")
	m := manifestFor(parentUUID, "", body)
	m.Files[0].SHA1 = sha1Hex([]byte("something else entirely"))

	srv := repoServer(t,
		map[string]Manifest{parentUUID: m},
		map[string][]byte{parentUUID: body},
	)
	defer srv.Close()

	fake := execshim.NewFake()
	imp := newImporter(t, srv.URL, fake)
	if err := imp.Import(context.Background(), parentUUID); err == nil {
		t.Fatal("Import should refuse a payload whose sha1 does not match")
	}

	for _, inv := range fake.Invocations {
		if len(inv.Args) > 0 && inv.Args[0] == "receive" {
			t.Errorf("mismatched payload must never reach zfs receive: %v", inv)
		}
	}
}

func TestImportRefusesFormatContradictingManifest(t *testing.T) {
	// Declared bzip2, actually gzip. Digest matches, so only the
	// format sniff can catch it.
	body := gzipBytes(t, "data")
	m := manifestFor(parentUUID, "", body)
	m.Files[0].Compression = CompressionBzip2

	srv := repoServer(t,
		map[string]Manifest{parentUUID: m},
		map[string][]byte{parentUUID: body},
	)
	defer srv.Close()

	imp := newImporter(t, srv.URL, execshim.NewFake())
	err := imp.Import(context.Background(), parentUUID)
	if err == nil || !strings.Contains(err.Error(), "manifest declares") {
		t.Fatalf("err = %v, want format mismatch", err)
	}
}

func TestImportDestroysPartialDatasetOnReceiveFailure(t *testing.T) {
	body := gzipBytes(t, "data")
	srv := repoServer(t,
		map[string]Manifest{parentUUID: manifestFor(parentUUID, "", body)},
		map[string][]byte{parentUUID: body},
	)
	defer srv.Close()

	fake := execshim.NewFake()
	fake.OnError(&execshim.Error{Cmd: "zfs"}, "zfs", "receive", "zroot/"+parentUUID)
	fake.On("", "zfs", "destroy", "zroot/"+parentUUID)

	imp := newImporter(t, srv.URL, fake)
	if err := imp.Import(context.Background(), parentUUID); err == nil {
		t.Fatal("Import should surface the receive failure")
	}

	saw := false
	for _, inv := range fake.Invocations {
		if inv.String() == "zfs destroy zroot/"+parentUUID {
			saw = true
		}
	}
	if !saw {
		t.Error("partial dataset was not destroyed")
	}
}
