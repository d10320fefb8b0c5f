/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hpack

import (
	"bytes"
	"errors"
	"strings"
)

// ErrProtocolError covers every malformed-input case spec §4.4 calls a
// protocol error: a header name containing uppercase ASCII, a
// dynamic-table-size-update appearing mid-block, or a truncated
// integer/string.
var ErrProtocolError = errors.New("hpack: protocol error")

// Decoder parses one or more HPACK header blocks, maintaining a
// dynamic table that must mirror the peer Encoder's.
type Decoder struct {
	dyn dynamicTable
	// emitFunc receives each decoded field as soon as it is parsed.
	emitFunc func(HeaderField)
	sawRegularField bool
}

// NewDecoder returns a Decoder with the given initial dynamic table
// capacity.
func NewDecoder(tableSize uint32, emit func(HeaderField)) *Decoder {
	d := &Decoder{emitFunc: emit}
	d.dyn.setCapacity(tableSize)
	return d
}

// SetEmit replaces the callback that receives decoded fields, letting
// a connection-wide Decoder be reused across successive header blocks
// without losing its dynamic table state.
func (d *Decoder) SetEmit(emit func(HeaderField)) {
	d.emitFunc = emit
}

// SetMaxDynamicTableSize applies a locally-imposed cap (e.g. from our
// own outgoing SETTINGS_HEADER_TABLE_SIZE) in addition to whatever the
// block's own dynamic-table-size-update instructions request.
func (d *Decoder) SetMaxDynamicTableSize(v uint32) {
	d.dyn.setCapacity(v)
}

// Write parses a complete header block (HEADERS frame payload plus any
// CONTINUATION payloads already concatenated by the caller, which is
// responsible for the atomic-block rule in spec §4.4).
func (d *Decoder) Write(p []byte) error {
	d.sawRegularField = false
	for len(p) > 0 {
		var err error
		p, err = d.parseOne(p)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) parseOne(p []byte) ([]byte, error) {
	b := p[0]
	switch {
	case b&0x80 != 0: // 1xxxxxxx: indexed field
		idx, n, err := readVarInt(7, p)
		if err != nil {
			return nil, err
		}
		d.sawRegularField = true
		f, ok := d.resolveIndex(int(idx))
		if !ok || idx == 0 {
			return nil, ErrProtocolError
		}
		d.emit(f)
		return p[n:], nil

	case b&0xc0 == 0x40: // 01xxxxxx: literal with incremental indexing
		return d.parseLiteral(p, 6, 0x40, true)

	case b&0xe0 == 0x20: // 001xxxxx: dynamic table size update
		if d.sawRegularField {
			return nil, ErrProtocolError
		}
		v, n, err := readVarInt(5, p)
		if err != nil {
			return nil, err
		}
		d.dyn.setCapacity(uint32(v))
		return p[n:], nil

	case b&0xf0 == 0x10: // 0001xxxx: literal never indexed
		return d.parseLiteral(p, 4, 0x10, false)

	default: // 0000xxxx: literal without indexing
		return d.parseLiteral(p, 4, 0x00, false)
	}
}

func (d *Decoder) parseLiteral(p []byte, prefixBits byte, mask byte, index bool) ([]byte, error) {
	idx, n, err := readVarInt(prefixBits, p)
	if err != nil {
		return nil, err
	}
	p = p[n:]
	d.sawRegularField = true

	var name string
	if idx == 0 {
		name, p, err = d.parseString(p)
		if err != nil {
			return nil, err
		}
	} else {
		f, ok := d.resolveIndex(int(idx))
		if !ok {
			return nil, ErrProtocolError
		}
		name = f.Name
	}
	if hasUpperASCII(name) {
		return nil, ErrProtocolError
	}
	value, rest, err := d.parseString(p)
	if err != nil {
		return nil, err
	}
	f := HeaderField{Name: name, Value: value}
	d.emit(f)
	if index {
		d.dyn.add(f)
	}
	return rest, nil
}

func hasUpperASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

func (d *Decoder) parseString(p []byte) (string, []byte, error) {
	if len(p) == 0 {
		return "", nil, errBufferTooShort
	}
	huff := p[0]&0x80 != 0
	l, n, err := readVarInt(7, p)
	if err != nil {
		return "", nil, err
	}
	p = p[n:]
	if uint64(len(p)) < l {
		return "", nil, errBufferTooShort
	}
	raw := p[:l]
	rest := p[l:]
	if !huff {
		return string(raw), rest, nil
	}
	var buf bytes.Buffer
	if err := HuffmanDecode(&buf, raw); err != nil {
		return "", nil, err
	}
	return buf.String(), rest, nil
}

// resolveIndex maps a 1-based combined static+dynamic index to a
// HeaderField.
func (d *Decoder) resolveIndex(idx int) (HeaderField, bool) {
	if idx <= 0 {
		return HeaderField{}, false
	}
	if idx <= len(staticTable) {
		return staticTable[idx-1], true
	}
	return d.dyn.at(idx - len(staticTable) - 1)
}

func (d *Decoder) emit(f HeaderField) {
	if d.emitFunc != nil {
		d.emitFunc(f)
	}
}

// ValidHeaderName reports whether name is legal for an outgoing HPACK
// field (no uppercase ASCII, per spec §4.4).
func ValidHeaderName(name string) bool {
	return !hasUpperASCII(name) && name != "" && !strings.ContainsAny(name, " \t\r\n")
}
