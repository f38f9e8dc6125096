// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package logger owns the process-wide zerolog sink
// (logger.L.Error().Err(err).Msg(...) at call sites). Orchestrator
// code is also handed a per-call zerolog.Logger through Env so tests
// never touch the global.
package logger

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// L is the process-wide logger, initialized by Init. Until Init runs it
// is a usable no-op-ish console logger so early bootstrap errors still
// print somewhere.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// Init wires L to stderr (colored when attached to a terminal) and,
// when logPath is non-empty, additionally to a lumberjack-rotated file.
func Init(logPath string, level string) {
	zerolog.SetGlobalLevel(parseLevel(level))

	var writers []io.Writer

	if isatty.IsTerminal(os.Stderr.Fd()) {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		writers = append(writers, os.Stderr)
	}

	if logPath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	L = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// BootstrapFatal prints a single line and exits 1, used for failures
// before Init has run.
func BootstrapFatal(msg string) {
	L.Fatal().Msg(msg)
}
