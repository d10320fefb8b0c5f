/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import "io"

// writeStringer mirrors strings.stringWriter so Write can take either
// an io.Writer or something exposing a faster WriteString.
type writeStringer interface {
	WriteString(string) (int, error)
}

type stringWriter struct{ w io.Writer }

func (s stringWriter) WriteString(str string) (int, error) {
	return s.w.Write([]byte(str))
}

// Write writes the header in wire format (CRLF-terminated lines, in
// insertion order) to w.
func (h Header) Write(w io.Writer) error {
	ws, ok := w.(writeStringer)
	if !ok {
		ws = stringWriter{w}
	}
	for _, p := range h.pairs {
		v := TrimString(FoldNewlines(p.value))
		for _, s := range []string{p.name, ": ", v, "\r\n"} {
			if _, err := ws.WriteString(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteSubset is like Write but skips names present (true) in exclude.
func (h Header) WriteSubset(w io.Writer, exclude map[string]bool) error {
	ws, ok := w.(writeStringer)
	if !ok {
		ws = stringWriter{w}
	}
	for _, p := range h.pairs {
		if exclude[p.name] {
			continue
		}
		v := TrimString(FoldNewlines(p.value))
		for _, s := range []string{p.name, ": ", v, "\r\n"} {
			if _, err := ws.WriteString(s); err != nil {
				return err
			}
		}
	}
	return nil
}
