// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package storage

import (
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// cache holds one pool listing at a time, stored as a msgpack blob.
// Decoding on every get hands each caller its own copy, so List
// callers are free to mutate what they get back without corrupting
// the cache.
type cache struct {
	mu   sync.Mutex
	pool string
	blob []byte
}

func newCache() *cache {
	return &cache{}
}

func (c *cache) get(pool string) ([]Dataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.blob == nil || c.pool != pool {
		return nil, false
	}

	var datasets []Dataset
	if err := msgpack.Unmarshal(c.blob, &datasets); err != nil {
		return nil, false
	}
	return datasets, true
}

func (c *cache) put(pool string, datasets []Dataset) {
	b, err := msgpack.Marshal(datasets)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = pool
	c.blob = b
}

func (c *cache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = ""
	c.blob = nil
}
