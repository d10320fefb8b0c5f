/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"io"
	"testing"
)

func TestResponseIsSuccessful(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{199, false}, {200, true}, {204, true}, {299, true}, {300, false}, {404, false},
	}
	for _, c := range cases {
		r := &Response{StatusCode: c.code}
		if got := r.IsSuccessful(); got != c.want {
			t.Errorf("IsSuccessful(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestResponseIsRedirect(t *testing.T) {
	redirects := map[int]bool{300: true, 301: true, 302: true, 303: true, 307: true, 308: true, 200: false, 404: false, 304: false}
	for code, want := range redirects {
		r := &Response{StatusCode: code}
		if got := r.IsRedirect(); got != want {
			t.Errorf("IsRedirect(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestResponseBodyCloseReachesUnderlying(t *testing.T) {
	rc := &countingCloser{Reader: io.LimitReader(new(zeroReader), 2)}
	body := &ResponseBody{ContentLength: 2, reader: rc}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(body, buf); err != nil {
		t.Fatal(err)
	}
	if err := body.Close(); err != nil {
		t.Fatal(err)
	}
	if !rc.closed {
		t.Fatal("ResponseBody.Close must close the underlying reader")
	}
}

type countingCloser struct {
	io.Reader
	closed bool
}

func (c *countingCloser) Close() error {
	c.closed = true
	return nil
}
