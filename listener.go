/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

// Listener receives lifecycle notifications for one Call, generalized
// from the teacher's trc (client trace) package into the OkHttp-shaped
// EventListener the pack's spec supplements (SPEC_FULL.md §3). Every
// method has a no-op default via NopListener so embedders only
// override what they need.
type Listener interface {
	DNSStart(host string)
	DNSEnd(host string)
	ConnectStart()
	ConnectEnd(protocol Protocol, err error)
	TLSHandshakeStart()
	TLSHandshakeEnd(err error)
	RequestHeadersStart()
	RequestHeadersEnd()
	RequestBodyEnd(bytesWritten int64)
	ResponseHeadersStart()
	ResponseHeadersEnd(code int)
	ResponseBodyEnd(bytesRead int64)
	CacheHit()
	CacheMiss()
	CallEnd()
	CallFailed(err error)
	Canceled()
}

// NopListener implements Listener with every method a no-op; embed it
// to override only the callbacks of interest.
type NopListener struct{}

func (NopListener) DNSStart(string)                 {}
func (NopListener) DNSEnd(string)                   {}
func (NopListener) ConnectStart()                   {}
func (NopListener) ConnectEnd(Protocol, error)       {}
func (NopListener) TLSHandshakeStart()               {}
func (NopListener) TLSHandshakeEnd(error)            {}
func (NopListener) RequestHeadersStart()             {}
func (NopListener) RequestHeadersEnd()               {}
func (NopListener) RequestBodyEnd(int64)             {}
func (NopListener) ResponseHeadersStart()            {}
func (NopListener) ResponseHeadersEnd(int)           {}
func (NopListener) ResponseBodyEnd(int64)            {}
func (NopListener) CacheHit()                        {}
func (NopListener) CacheMiss()                       {}
func (NopListener) CallEnd()                         {}
func (NopListener) CallFailed(error)                 {}
func (NopListener) Canceled()                        {}

var _ Listener = NopListener{}
