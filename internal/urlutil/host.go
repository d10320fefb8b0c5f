/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package urlutil canonicalizes hostnames (IPv4, IPv6, and IDN labels)
// and resolves the registrable domain (eTLD+1) used to scope cookies
// and connection coalescing, per spec §4.2.
package urlutil

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

var errInvalidHost = errors.New("urlutil: invalid host")

// idnaProfile mirrors the UTS#46 mapping + NFC-normalize + Punycode
// pipeline the spec calls for; golang.org/x/net/idna already implements
// this, so we configure and reuse it rather than reimplement UTS#46.
var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.Transitional(false),
)

// CanonicalizeHost normalizes host for use as a connection/Address
// identity key:
//   - IPv4 literal: validated and returned unchanged.
//   - IPv6 literal (bracketed or bare): validated, returned bracketed.
//   - otherwise: treated as an IDN label sequence, NFC-normalized and
//     Punycode-encoded per label (RFC 3492), each label checked for the
//     1..63 byte limit and the whole name for the 253 byte limit.
func CanonicalizeHost(host string) (string, error) {
	if host == "" {
		return "", errInvalidHost
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		inner := host[1 : len(host)-1]
		ip := net.ParseIP(inner)
		if ip == nil || ip.To4() != nil {
			return "", fmt.Errorf("%w: %q", errInvalidHost, host)
		}
		return "[" + ip.String() + "]", nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
		return "[" + ip.String() + "]", nil
	}

	ascii, err := idnaProfile.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidHost, err)
	}
	ascii = strings.ToLower(ascii)
	if len(ascii) > 253 {
		return "", fmt.Errorf("%w: host exceeds 253 bytes", errInvalidHost)
	}
	for _, label := range strings.Split(ascii, ".") {
		if len(label) == 0 || len(label) > 63 {
			return "", fmt.Errorf("%w: label %q out of 1..63 byte range", errInvalidHost, label)
		}
	}
	return ascii, nil
}

// IsIPLiteral reports whether host (as returned by CanonicalizeHost)
// is an IPv4 or bracketed IPv6 literal rather than a DNS name.
func IsIPLiteral(host string) bool {
	if strings.HasPrefix(host, "[") {
		return true
	}
	return net.ParseIP(host) != nil
}
