// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

// Package verrors is the error taxonomy: NotFound, Conflict,
// Validation and Generic. Underlying I/O, JSON and subprocess
// failures are wrapped with %w so they still satisfy errors.Is/As.
package verrors

import "fmt"

type NotFoundError struct {
	UUID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not_found: %s", e.UUID) }

func NotFound(uuid string) error { return &NotFoundError{UUID: uuid} }

func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

type ConflictError struct {
	UUID string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("conflict: %s already exists", e.UUID) }

func Conflict(uuid string) error { return &ConflictError{UUID: uuid} }

func IsConflict(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}

// FieldError is one accumulated validation failure.
type FieldError struct {
	Field string
	Msg   string
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msg := "validation_failed"
	for _, f := range e.Fields {
		msg += fmt.Sprintf("\n  %s: %s", f.Field, f.Msg)
	}
	return msg
}

func Validation(fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func IsValidation(err error) (*ValidationError, bool) {
	ve, ok := err.(*ValidationError)
	return ve, ok
}

// Generic wraps a subprocess failure, a missing field, or unparseable
// output into a named error without inventing a new type for every
// call site.
func Generic(msg string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, cause)
}
