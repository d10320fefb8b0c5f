/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hpack

// Encoder emits an HPACK header block, one HeaderField at a time,
// maintaining an encoder-side dynamic table that must stay in lockstep
// with the peer's decoder (spec §8's round-trip invariant).
type Encoder struct {
	dyn            dynamicTable
	minSizeUpdate  bool
	pendingMinSize uint32
	huffman        bool // whether to prefer Huffman-encoded strings
}

// NewEncoder returns an Encoder with the given initial dynamic table
// capacity.
func NewEncoder(tableSize uint32) *Encoder {
	e := &Encoder{huffman: true}
	e.dyn.setCapacity(tableSize)
	return e
}

// SetMaxDynamicTableSize applies a new SETTINGS_HEADER_TABLE_SIZE,
// emitting a dynamic-table-size-update instruction on the next
// WriteField call (RFC 7541 §6.3).
func (e *Encoder) SetMaxDynamicTableSize(v uint32) {
	if v > maxLocalTableSize {
		v = maxLocalTableSize
	}
	e.dyn.setCapacity(v)
	e.minSizeUpdate = true
	e.pendingMinSize = v
}

// WriteField appends f's HPACK encoding to dst and returns the
// extended slice.
func (e *Encoder) WriteField(dst []byte, f HeaderField) []byte {
	if e.minSizeUpdate {
		dst = appendVarInt(dst, 5, uint64(e.pendingMinSize), 0x20)
		e.minSizeUpdate = false
	}

	if idx, ok := staticPairIndex[HeaderField{Name: f.Name, Value: f.Value}]; ok && !f.Sensitive {
		return appendVarInt(dst, 7, uint64(idx+1), 0x80)
	}
	if di, ok := e.dynFind(f); ok && !f.Sensitive {
		return appendVarInt(dst, 7, uint64(di), 0x80)
	}

	nameIdx, hasName := e.findNameIndex(f.Name)

	var firstByte byte
	switch {
	case f.Sensitive:
		firstByte = 0x10 // never indexed
	default:
		firstByte = 0x40 // literal with incremental indexing
	}

	if hasName {
		dst = appendVarInt(dst, prefixBitsFor(firstByte), uint64(nameIdx+1), firstByte)
	} else {
		dst = appendVarInt(dst, prefixBitsFor(firstByte), 0, firstByte)
		dst = e.appendString(dst, f.Name)
	}
	dst = e.appendString(dst, f.Value)

	if !f.Sensitive {
		e.dyn.add(f)
	}
	return dst
}

func prefixBitsFor(firstByte byte) byte {
	if firstByte == 0x40 {
		return 6
	}
	return 4
}

// dynFind returns the 1-based wire index (staticTable-length offset
// already applied) of an exact pair match in the dynamic table.
func (e *Encoder) dynFind(f HeaderField) (int, bool) {
	for i := 0; i < e.dyn.len(); i++ {
		entry, _ := e.dyn.at(i)
		if entry.Name == f.Name && entry.Value == f.Value {
			return len(staticTable) + i + 1, true
		}
	}
	return 0, false
}

func (e *Encoder) findNameIndex(name string) (int, bool) {
	if i, ok := staticNameIndex[name]; ok {
		return i, true
	}
	for i := 0; i < e.dyn.len(); i++ {
		entry, _ := e.dyn.at(i)
		if entry.Name == name {
			return len(staticTable) + i, true
		}
	}
	return 0, false
}

func (e *Encoder) appendString(dst []byte, s string) []byte {
	if e.huffman {
		hlen := HuffmanEncodedLen(s)
		if hlen < len(s) {
			dst = appendVarInt(dst, 7, uint64(hlen), 0x80)
			return HuffmanEncode(dst, s)
		}
	}
	dst = appendVarInt(dst, 7, uint64(len(s)), 0x00)
	return append(dst, s...)
}
