/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/badu/httpcore/internal/hdr"
)

// Key returns the disk cache key for a request URL: hex(SHA-256(url))
// (spec §3 "Cache entry").
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// VaryMatches reports whether the headers named in the cached
// response's Vary header are identical between the original request
// and the new one, per RFC 7234 §4.1. Grounded on varyMatches in
// 2773d9a4_mchtech-httpcache__httpcache.go.go.
func VaryMatches(cachedRequestHeaders, newRequestHeaders hdr.Header, cachedResponseHeaders hdr.Header) bool {
	vary := cachedResponseHeaders.Get(hdr.Vary)
	if vary == "" {
		return true
	}
	for _, name := range strings.Split(vary, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if cachedRequestHeaders.Get(name) != newRequestHeaders.Get(name) {
			return false
		}
	}
	return true
}
