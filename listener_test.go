/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import "testing"

// TestNopListenerSatisfiesInterface guards against a future Listener
// method being added without a corresponding no-op, which would break
// every embedder overriding only a subset of callbacks.
func TestNopListenerSatisfiesInterface(t *testing.T) {
	var l Listener = NopListener{}
	l.DNSStart("x")
	l.DNSEnd("x")
	l.ConnectStart()
	l.ConnectEnd(ProtocolHTTP11, nil)
	l.TLSHandshakeStart()
	l.TLSHandshakeEnd(nil)
	l.RequestHeadersStart()
	l.RequestHeadersEnd()
	l.RequestBodyEnd(0)
	l.ResponseHeadersStart()
	l.ResponseHeadersEnd(200)
	l.ResponseBodyEnd(0)
	l.CacheHit()
	l.CacheMiss()
	l.CallEnd()
	l.CallFailed(nil)
	l.Canceled()
}
