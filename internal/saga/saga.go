// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package saga runs an ordered sequence of compensable steps
// ("adventures"). When a forward step fails, the backward steps of
// every completed forward run in strict reverse order, threading the
// state through each, and the original failure is returned to the
// caller together with any compensation errors.
package saga

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Adventure pairs an effectful forward step with its compensation.
// Backward must be idempotent and total: it runs only for completed
// forwards, but has to tolerate partial success within its own step.
type Adventure[S any] struct {
	Name     string
	Forward  func(ctx context.Context, s S) (S, error)
	Backward func(ctx context.Context, s S) (S, error)
}

// Saga is an ordered list of adventures executed by Tell.
type Saga[S any] struct {
	Log        zerolog.Logger
	adventures []Adventure[S]
}

func New[S any](log zerolog.Logger) *Saga[S] {
	return &Saga[S]{Log: log}
}

func (sg *Saga[S]) Then(a Adventure[S]) *Saga[S] {
	sg.adventures = append(sg.adventures, a)
	return sg
}

// Tell runs every forward in order. On the k-th forward failing it
// runs backward k-1 .. 0, threading state, and returns the state as
// the compensations left it plus the forward error. Compensation
// failures do not stop the remaining rollback; they are accumulated
// onto the returned error with go-multierror.
func (sg *Saga[S]) Tell(ctx context.Context, initial S) (S, error) {
	s := initial

	for i, adv := range sg.adventures {
		next, err := adv.Forward(ctx, s)
		if err == nil {
			s = next
			continue
		}

		sg.Log.Error().Err(err).Str("adventure", adv.Name).Msg("saga step failed, compensating")

		result := multierror.Append(nil, err)
		s = next

		for j := i - 1; j >= 0; j-- {
			back := sg.adventures[j]
			compensated, cerr := back.Backward(ctx, s)
			if cerr != nil {
				sg.Log.Error().Err(cerr).Str("adventure", back.Name).Msg("compensation failed")
				result = multierror.Append(result, cerr)
				continue
			}
			s = compensated
		}

		return s, result.ErrorOrNil()
	}

	return s, nil
}
