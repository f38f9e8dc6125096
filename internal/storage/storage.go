// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package storage is a thin capability over ZFS datasets: list, get,
// snapshot, clone, receive and destroy, plus an origin query. It only
// covers the handful of operations the jail lifecycle needs.
package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/freebsd-jails/vmadm/pkg/execshim"
)

// Dataset is the subset of `zfs list`/`zfs get` output the orchestrator
// and image importer consume. Field names follow the ZFS property
// names.
type Dataset struct {
	Name       string
	Used       uint64
	Available  uint64
	Referenced uint64
	Mountpoint string
	Origin     string
}

// Driver shells out to zfs(8) through an execshim.Runner.
type Driver struct {
	Runner execshim.Runner
	cache  *cache
}

func New(runner execshim.Runner) *Driver {
	return &Driver{Runner: runner, cache: newCache()}
}

// List enumerates the direct children of pool. Results are cached per
// Driver instance: repeated List calls within one command invocation
// reuse the first call's output instead of re-shelling out.
func (d *Driver) List(ctx context.Context, pool string) ([]Dataset, error) {
	if cached, ok := d.cache.get(pool); ok {
		return cached, nil
	}

	out, err := d.Runner.Run(ctx, "zfs", "list", "-p", "-H", "-r", "-d1", pool,
		"-o", "name,used,avail,refer,mountpoint")
	if err != nil {
		return nil, fmt.Errorf("zfs list %s: %w", pool, err)
	}

	datasets, err := parseDatasetLines(out)
	if err != nil {
		return nil, err
	}

	d.cache.put(pool, datasets)
	return datasets, nil
}

// Get fetches a single dataset by full path, `zfs list -p -H <dataset>`.
func (d *Driver) Get(ctx context.Context, dataset string) (Dataset, error) {
	out, err := d.Runner.Run(ctx, "zfs", "list", "-p", "-H", dataset,
		"-o", "name,used,avail,refer,mountpoint")
	if err != nil {
		return Dataset{}, fmt.Errorf("zfs list %s: %w", dataset, err)
	}

	sets, err := parseDatasetLines(out)
	if err != nil {
		return Dataset{}, err
	}
	if len(sets) == 0 {
		return Dataset{}, fmt.Errorf("zfs list %s: empty output", dataset)
	}
	return sets[0], nil
}

// IsPresent reports whether dataset exists, without treating "does
// not exist" as an error the way Get does.
func (d *Driver) IsPresent(ctx context.Context, dataset string) bool {
	_, err := d.Runner.Run(ctx, "zfs", "list", "-H", dataset)
	return err == nil
}

// Origin returns the snapshot a clone was created from. Returns ""
// with no error for a dataset that isn't a clone (origin property
// "-").
func (d *Driver) Origin(ctx context.Context, dataset string) (string, error) {
	out, err := d.Runner.Run(ctx, "zfs", "get", "-p", "-H", "origin", dataset)
	if err != nil {
		return "", fmt.Errorf("zfs get origin %s: %w", dataset, err)
	}
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return "", fmt.Errorf("zfs get origin %s: unexpected output %q", dataset, out)
	}
	origin := fields[2]
	if origin == "-" {
		return "", nil
	}
	return origin, nil
}

// Snapshot creates <dataset>@<snap>, invalidating the pool cache since
// the listing of the pool's children is unaffected but a later List
// call for a fresh command run should never observe stale origin data.
func (d *Driver) Snapshot(ctx context.Context, dataset, snap string) error {
	full := dataset + "@" + snap
	if _, err := d.Runner.Run(ctx, "zfs", "snapshot", full); err != nil {
		return fmt.Errorf("zfs snapshot %s: %w", full, err)
	}
	d.cache.invalidate()
	return nil
}

// Clone creates dataset as a clone of snapshot ("<parent>@<snap>").
func (d *Driver) Clone(ctx context.Context, snapshot, dataset string) error {
	if _, err := d.Runner.Run(ctx, "zfs", "clone", snapshot, dataset); err != nil {
		return fmt.Errorf("zfs clone %s %s: %w", snapshot, dataset, err)
	}
	d.cache.invalidate()
	return nil
}

// Destroy removes target, which may be a dataset or a dataset@snapshot.
func (d *Driver) Destroy(ctx context.Context, target string) error {
	if _, err := d.Runner.Run(ctx, "zfs", "destroy", target); err != nil {
		return fmt.Errorf("zfs destroy %s: %w", target, err)
	}
	d.cache.invalidate()
	return nil
}

// Receive streams r into `zfs receive <dataset>` via stdin; image
// import uses it to materialize a decompressed image stream as a new
// dataset. Callers should give Receive an unbounded context: a large
// image stream can legitimately take minutes.
func (d *Driver) Receive(ctx context.Context, dataset string, r io.Reader) error {
	if _, err := d.Runner.RunStdin(ctx, r, "zfs", "receive", dataset); err != nil {
		return fmt.Errorf("zfs receive %s: %w", dataset, err)
	}
	d.cache.invalidate()
	return nil
}

func parseDatasetLines(out string) ([]Dataset, error) {
	var datasets []Dataset
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			return nil, fmt.Errorf("unexpected zfs list line %q", line)
		}

		used, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing used %q: %w", fields[1], err)
		}
		avail, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing avail %q: %w", fields[2], err)
		}
		refer, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing refer %q: %w", fields[3], err)
		}

		datasets = append(datasets, Dataset{
			Name:       fields[0],
			Used:       used,
			Available:  avail,
			Referenced: refer,
			Mountpoint: fields[4],
		})
	}
	return datasets, nil
}
