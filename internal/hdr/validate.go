/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import "golang.org/x/net/http/httpguts"

// ValidName reports whether name is a legal RFC 7230 field-name token.
func ValidName(name string) bool { return httpguts.ValidHeaderFieldName(name) }

// ValidValue reports whether value is free of control characters
// other than horizontal tab, per RFC 7230 §3.2.
func ValidValue(value string) bool { return httpguts.ValidHeaderFieldValue(value) }
