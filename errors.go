/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the taxonomy in spec §7.
var (
	ErrCanceled         = errors.New("httpcore: canceled")
	ErrTooManyFollowUps = errors.New("httpcore: too many follow-up requests (20)")
	ErrUnsatisfiable    = errors.New("httpcore: unsatisfiable request (only-if-cached)")
)

// maxFollowUps caps redirect/auth retries per call (spec §4.8).
const maxFollowUps = 20

// ProtocolError marks malformed wire data: a bad status line, an
// invalid H2 frame, an HPACK violation, a bad WebSocket opcode. It is
// fatal for the connection that produced it (spec §7).
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "httpcore: protocol error: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// TLSError marks a handshake failure; the route it occurred on is
// never retried (spec §7).
type TLSError struct {
	Err error
}

func (e *TLSError) Error() string { return "httpcore: tls error: " + e.Err.Error() }
func (e *TLSError) Unwrap() error { return e.Err }

// CallError aggregates every failed route's error into the single
// IOException-shaped error a synchronous Execute returns (spec §7
// "a single synchronous execute() ... throws one IOException whose
// chain includes every relevant underlying failure").
type CallError struct {
	Primary    error
	Suppressed []error
}

func (e *CallError) Error() string {
	if len(e.Suppressed) == 0 {
		return e.Primary.Error()
	}
	var b strings.Builder
	b.WriteString(e.Primary.Error())
	for _, s := range e.Suppressed {
		fmt.Fprintf(&b, "; suppressed: %v", s)
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Primary }

// recoverable implements the predicate from spec §9 "the retry
// interceptor unwinds via typed errors; it must distinguish
// recoverable vs. fatal with a predicate taking (errorKind,
// requestState)". It never does a broad catch-all: each error shape
// is classified explicitly.
func recoverable(err error, bodyStreamed bool, hasMoreRoutes bool) bool {
	if errors.Is(err, ErrCanceled) {
		return false
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return false
	}
	var tlsErr *TLSError
	if errors.As(err, &tlsErr) {
		return false
	}
	if bodyStreamed {
		return false
	}
	return hasMoreRoutes
}
