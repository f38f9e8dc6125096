// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package jailconfig

import (
	"encoding/json"
	"fmt"
	"regexp"

	validatorpkg "github.com/go-playground/validator/v10"

	"github.com/freebsd-jails/vmadm/internal/verrors"
	"github.com/freebsd-jails/vmadm/pkg/utils"
)

var (
	dnsLabelRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,253}[A-Za-z0-9])?$`)
	ifaceRe    = regexp.MustCompile(`^[a-zA-Z]{1,4}[0-9]{0,3}$`)
	macRe      = regexp.MustCompile(`^[a-fA-F0-9]{1,2}(:[a-fA-F0-9]{1,2}){5}$`)
)

func newValidator() *validatorpkg.Validate {
	v := validatorpkg.New()
	_ = v.RegisterValidation("dns_label", func(fl validatorpkg.FieldLevel) bool {
		return dnsLabelRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("jail_iface", func(fl validatorpkg.FieldLevel) bool {
		return ifaceRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("jail_mac", func(fl validatorpkg.FieldLevel) bool {
		return macRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("dotted_quad", func(fl validatorpkg.FieldLevel) bool {
		return utils.IsDottedQuadIPv4(fl.Field().String())
	})
	return v
}

// NetworkTags resolves nic_tag -> bridge name against the global
// networks map.
type NetworkTags interface {
	Bridge(nicTag string) (string, bool)
}

// Parse unmarshals and defaults raw JSON, then validates it,
// accumulating every violation into a single verrors.ValidationError
// instead of failing on the first one.
func Parse(raw []byte, tags NetworkTags) (JailConfig, error) {
	var cfg JailConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return JailConfig{}, verrors.Generic("failed_to_parse_jail_config", err)
	}

	cfg.ApplyDefaults()

	if err := Validate(&cfg, tags); err != nil {
		return JailConfig{}, err
	}

	return cfg, nil
}

// Validate runs the field-level rules plus the cross-cutting nic_tag
// membership check that validator/v10 tags alone can't express (it
// needs access to the caller's network map).
func Validate(cfg *JailConfig, tags NetworkTags) error {
	v := newValidator()

	var fields []verrors.FieldError

	if err := v.Struct(cfg); err != nil {
		if verrs, ok := err.(validatorpkg.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, verrors.FieldError{
					Field: fe.Namespace(),
					Msg:   fe.Tag(),
				})
			}
		} else {
			fields = append(fields, verrors.FieldError{Field: "config", Msg: err.Error()})
		}
	}

	if tags != nil {
		for i, nic := range cfg.NICs {
			if _, ok := tags.Bridge(nic.NicTag); !ok {
				fields = append(fields, verrors.FieldError{
					Field: fmt.Sprintf("nics[%d].nic_tag", i),
					Msg:   "not found in networks map",
				})
			}
		}
	}

	if len(fields) > 0 {
		return verrors.Validation(fields)
	}

	return nil
}
