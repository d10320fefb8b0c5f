/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"testing"

	"github.com/badu/httpcore/internal/hdr"
)

func TestFollowUpRequest408RetriesWithoutConnectionClose(t *testing.T) {
	c := NewClient()
	defer c.Close()

	req, err := NewRequest("GET", "http://example.test/a")
	if err != nil {
		t.Fatal(err)
	}
	resp := &Response{StatusCode: 408, Request: req}

	followUp := c.followUpRequest(req, resp)
	if followUp == nil {
		t.Fatal("expected a retry request for 408 without Connection: close")
	}
}

// TestFollowUpRequest408HonorsConnectionClose covers spec §4.8: "retry
// original request only if the body is replayable and the server did
// not set Connection: close".
func TestFollowUpRequest408HonorsConnectionClose(t *testing.T) {
	c := NewClient()
	defer c.Close()

	req, err := NewRequest("GET", "http://example.test/a")
	if err != nil {
		t.Fatal(err)
	}
	var h hdr.Header
	h.Set(hdr.Connection, "close")
	resp := &Response{StatusCode: 408, Request: req, Headers: h}

	if followUp := c.followUpRequest(req, resp); followUp != nil {
		t.Fatal("expected no retry for 408 when the server set Connection: close")
	}
}
