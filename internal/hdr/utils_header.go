/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

// validHeaderFieldByte reports whether b is a valid byte in a header
// field name. RFC 7230 says:
//
//	header-field   = field-name ":" OWS field-value OWS
//	field-name     = token
//	tchar = "!" / "#" / "$" / "%" / "&" / "'" / "*" / "+" / "-" / "." /
//	        "^" / "_" / "`" / "|" / "~" / DIGIT / ALPHA
//	token = 1*tchar
func validHeaderFieldByte(b byte) bool {
	return int(b) < len(isTokenTable) && isTokenTable[b]
}

// ValidName reports whether name is a legal header field name.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !validHeaderFieldByte(name[i]) {
			return false
		}
	}
	return true
}

// CanonicalHeaderKey returns the canonical format of the header key s
// (first letter and any letter following a hyphen are upper case; the
// rest are lower case). For invalid inputs (space or non-token bytes)
// s is returned unchanged, matching how lenient server-side parsing is
// allowed to behave per spec §4.2.
func CanonicalHeaderKey(s string) string {
	if s == "" {
		return s
	}
	buf := []byte(s)
	for _, c := range buf {
		if validHeaderFieldByte(c) {
			continue
		}
		return s
	}
	upper := true
	for i, c := range buf {
		if upper && 'a' <= c && c <= 'z' {
			c -= toLower
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += toLower
		}
		buf[i] = c
		upper = c == '-'
	}
	return string(buf)
}

// TrimString trims leading/trailing spaces and tabs, matching the
// OWS (optional whitespace) rule for header field values.
func TrimString(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	n := len(s)
	for n > i && (s[n-1] == ' ' || s[n-1] == '\t') {
		n--
	}
	return s[i:n]
}

// FoldNewlines replaces embedded CR/LF with a single space, preventing
// header/response splitting when writing a value to the wire.
func FoldNewlines(v string) string {
	return headerNewlineToSpace.Replace(v)
}
