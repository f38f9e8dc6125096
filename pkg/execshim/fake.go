// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package execshim

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Invocation records one call made through a Fake, for assertions in
// driver tests that care about exact command lines (e.g. the rctl rule
// ordering property).
type Invocation struct {
	Name  string
	Args  []string
	Stdin string
}

func (i Invocation) String() string {
	return strings.TrimSpace(i.Name + " " + strings.Join(i.Args, " "))
}

// Fake is an in-memory Runner for driver unit tests, standing in for
// a real FreeBSD host. Responses are matched by exact
// "name arg1 arg2..." string; unmatched invocations return Err (or a
// generic error if Err is nil).
type Fake struct {
	Invocations []Invocation
	Responses   map[string]string
	Errors      map[string]error
	Err         error
}

var _ Runner = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Responses: make(map[string]string),
		Errors:    make(map[string]error),
	}
}

func (f *Fake) On(stdout string, name string, args ...string) {
	f.Responses[key(name, args)] = stdout
}

func (f *Fake) OnError(err error, name string, args ...string) {
	f.Errors[key(name, args)] = err
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) (string, error) {
	return f.RunStdin(ctx, nil, name, args...)
}

func (f *Fake) RunStdin(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error) {
	var stdinStr string
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		stdinStr = string(b)
	}

	f.Invocations = append(f.Invocations, Invocation{Name: name, Args: args, Stdin: stdinStr})

	k := key(name, args)
	if err, ok := f.Errors[k]; ok {
		return "", err
	}
	if out, ok := f.Responses[k]; ok {
		return out, nil
	}
	if f.Err != nil {
		return "", f.Err
	}
	return "", fmt.Errorf("fake: unexpected invocation %q", k)
}

func key(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
