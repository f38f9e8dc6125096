// SPDX-License-Identifier: BSD-2-Clause
//
// Copyright (c) 2025 The FreeBSD Foundation.
//
// This software was developed by Hayzam Sherif <hayzam@alchemilla.io>
// of Alchemilla Ventures Pvt. Ltd. <hello@alchemilla.io>,
// under sponsorship from the FreeBSD Foundation.

package utils

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

var dottedQuadRe = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)

// IsDottedQuadIPv4 accepts dotted-quad IPv4 only (0-255 per octet,
// no leading zeros), rather than any string net.ParseIP happens to
// like (which also takes IPv6).
func IsDottedQuadIPv4(s string) bool {
	m := dottedQuadRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	for _, octet := range m[1:] {
		var v int
		if _, err := fmt.Sscanf(octet, "%d", &v); err != nil || v > 255 {
			return false
		}
		if len(octet) > 1 && octet[0] == '0' {
			return false
		}
	}
	return true
}

// GenerateRandomMAC returns a locally-administered, unicast MAC in
// colon-separated hex, used when a NIC descriptor omits one.
func GenerateRandomMAC() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed_to_generate_mac: %w", err)
	}
	buf[0] = (buf[0] | 0x02) & 0xfe
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", buf[0], buf[1], buf[2], buf[3], buf[4], buf[5]), nil
}
