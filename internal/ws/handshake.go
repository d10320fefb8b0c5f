/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package ws

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/badu/httpcore/internal/hdr"
)

// acceptGUID is the fixed magic string RFC 6455 §1.3 mixes into the
// handshake response's Sec-WebSocket-Accept computation.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// NewClientKey returns a fresh base64-encoded 16 random bytes for
// Sec-WebSocket-Key (spec §4.10).
func NewClientKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// AcceptValue computes the expected Sec-WebSocket-Accept value for a
// client key.
func AcceptValue(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ErrHandshakeFailed covers any non-101 response or a mismatched
// Sec-WebSocket-Accept.
var ErrHandshakeFailed = errors.New("ws: handshake failed")

// BuildUpgradeHeaders returns the request headers a call to Upgrade
// must send, given a freshly generated client key and whether
// permessage-deflate should be offered.
func BuildUpgradeHeaders(clientKey string, offerDeflate bool) hdr.Header {
	h := hdr.New()
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	h.Set("Sec-WebSocket-Key", clientKey)
	h.Set("Sec-WebSocket-Version", "13")
	if offerDeflate {
		h.Set("Sec-WebSocket-Extensions", "permessage-deflate; client_max_window_bits")
	}
	return h
}

// DeflateParams is the negotiated permessage-deflate configuration
// (RFC 7692), parsed from the server's Sec-WebSocket-Extensions value.
type DeflateParams struct {
	Enabled              bool
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
}

// ValidateUpgradeResponse checks status 101 and the Sec-WebSocket-Accept
// value, and parses any negotiated permessage-deflate parameters.
func ValidateUpgradeResponse(statusCode int, clientKey string, respHeaders hdr.Header) (DeflateParams, error) {
	if statusCode != 101 {
		return DeflateParams{}, ErrHandshakeFailed
	}
	if respHeaders.Get("Sec-WebSocket-Accept") != AcceptValue(clientKey) {
		return DeflateParams{}, ErrHandshakeFailed
	}
	ext := respHeaders.Get("Sec-WebSocket-Extensions")
	if ext == "" {
		return DeflateParams{}, nil
	}
	return parseDeflateExtension(ext), nil
}

func parseDeflateExtension(ext string) DeflateParams {
	p := DeflateParams{}
	for _, part := range splitAndTrim(ext) {
		switch part {
		case "permessage-deflate":
			p.Enabled = true
		case "server_no_context_takeover":
			p.ServerNoContextTakeover = true
		case "client_no_context_takeover":
			p.ClientNoContextTakeover = true
		}
	}
	return p
}

func splitAndTrim(s string) []string {
	var out []string
	for _, field := range strings.Split(s, ";") {
		field = strings.TrimSpace(field)
		if field != "" {
			out = append(out, field)
		}
	}
	return out
}
