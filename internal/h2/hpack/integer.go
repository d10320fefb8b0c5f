/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hpack

import "errors"

// ErrIntegerOverflow guards the variable-length integer decoder
// against a pathological multi-byte continuation (spec §4.4).
var ErrIntegerOverflow = errors.New("hpack: integer overflow")

// appendVarInt appends i using HPACK's prefix-N variable-length
// integer encoding (RFC 7541 §5.1): the low n bits of the first byte
// (already containing the instruction-type high bits in firstByte) are
// used as the prefix; overflow continues in following bytes, 7 bits at
// a time, high bit set on all but the last.
func appendVarInt(dst []byte, n byte, i uint64, firstByte byte) []byte {
	max := uint64(1<<n) - 1
	if i < max {
		return append(dst, firstByte|byte(i))
	}
	dst = append(dst, firstByte|byte(max))
	i -= max
	for i >= 128 {
		dst = append(dst, byte(i%128)+128)
		i /= 128
	}
	return append(dst, byte(i))
}

// readVarInt decodes a prefix-N integer starting from the low n bits
// of p[0], returning the value and the number of bytes consumed.
func readVarInt(n byte, p []byte) (uint64, int, error) {
	if len(p) == 0 {
		return 0, 0, errBufferTooShort
	}
	max := uint64(1<<n) - 1
	v := uint64(p[0]) & max
	if v < max {
		return v, 1, nil
	}
	i := 1
	var m uint64
	for {
		if i >= len(p) {
			return 0, 0, errBufferTooShort
		}
		b := p[i]
		v += uint64(b&0x7f) << m
		i++
		if m > 56 || v > (1<<32) {
			return 0, 0, ErrIntegerOverflow
		}
		if b&0x80 == 0 {
			return v, i, nil
		}
		m += 7
	}
}

var errBufferTooShort = errors.New("hpack: buffer too short")
