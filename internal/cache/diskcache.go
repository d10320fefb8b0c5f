/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package cache implements the journaled disk LRU cache engine (spec
// §4.9): content-addressed entries with atomic dirty-to-clean publish,
// a text journal for crash recovery, and background eviction to a
// size budget. The freshness/staleness decision (CacheStrategy, in
// strategy.go) is grounded on the httpcache-family reference
// implementations' getFreshness logic.
package cache

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	journalMagic   = "libcore.io.DiskLruCache"
	journalVersion = "1"

	opDirty  = "DIRTY"
	opClean  = "CLEAN"
	opRead   = "READ"
	opRemove = "REMOVE"

	journalFile    = "journal"
	journalTmpFile = "journal.tmp"
	journalBkpFile = "journal.bkp"

	redundantOpThreshold = 2000
)

var (
	ErrClosed       = errors.New("cache: closed")
	ErrEditorInUse  = errors.New("cache: another edit is in progress for this key")
	ErrNotCommitted = errors.New("cache: editor was not committed")
	ErrBadJournal   = errors.New("cache: malformed journal")
	ErrBadKey       = errors.New("cache: key must match [a-z0-9_-]{1,120}")
)

// validKey reports whether key matches the cache's key grammar (spec
// §4.9). Response cache keys are always hex(SHA-256(url)), but editLocked
// validates any caller-supplied key defensively.
func validKey(key string) bool {
	if len(key) == 0 || len(key) > 120 {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// entry is the in-memory bookkeeping record for one cache key. Two
// value streams are tracked per spec §3: index 0 is response
// metadata, index 1 is the response body.
type entry struct {
	key       string
	lengths   [2]int64
	readable  bool // has a committed CLEAN publish
	zombie    bool // scheduled for removal, kept alive until editor/readers release it
	editor    *Editor
	sequence  int64 // bumped on every commit; lets a snapshot's reader detect staleness
}

func (e *entry) totalLength() int64 { return e.lengths[0] + e.lengths[1] }

func (e *entry) cleanPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d", e.key, index))
}

func (e *entry) dirtyPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.tmp", e.key, index))
}

// Cache is a journaled disk LRU cache of exactly valueCount=2 value
// streams per entry.
type Cache struct {
	dir        string
	maxSize    int64
	appVersion string

	mu           sync.Mutex
	entries      map[string]*entry
	lru          []*entry // most-recently-used last
	size         int64
	journalW     *bufio.Writer
	journalFH    *os.File
	redundantOps int
	closed       bool
}

// Open opens or creates a disk LRU cache rooted at dir, replaying any
// existing journal (or promoting journal.bkp, per spec §4.9 startup
// recovery: "prefer journal if present else promote journal.bkp").
func Open(dir string, appVersion string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := &Cache{
		dir:        dir,
		maxSize:    maxSize,
		appVersion: appVersion,
		entries:    make(map[string]*entry),
	}

	journalPath := filepath.Join(dir, journalFile)
	bkpPath := filepath.Join(dir, journalBkpFile)
	if _, err := os.Stat(journalPath); os.IsNotExist(err) {
		if _, err := os.Stat(bkpPath); err == nil {
			if err := os.Rename(bkpPath, journalPath); err != nil {
				return nil, err
			}
		}
	}
	os.Remove(bkpPath)

	if _, err := os.Stat(journalPath); err == nil {
		if err := c.readJournal(journalPath); err != nil {
			return nil, err
		}
		c.processEntriesAfterReplay()
	}
	if err := c.rebuildJournal(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) readJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	header := make([]string, 0, 5)
	for len(header) < 5 && sc.Scan() {
		header = append(header, sc.Text())
	}
	if len(header) != 5 || header[0] != journalMagic || header[1] != journalVersion || header[4] != "" {
		return ErrBadJournal
	}

	for sc.Scan() {
		if err := c.readJournalLine(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (c *Cache) readJournalLine(line string) error {
	var op, key, rest string
	i := indexByte(line, ' ')
	if i < 0 {
		op, key = line, ""
	} else {
		op = line[:i]
		remainder := line[i+1:]
		if j := indexByte(remainder, ' '); j >= 0 {
			key, rest = remainder[:j], remainder[j+1:]
		} else {
			key = remainder
		}
	}

	e := c.entries[key]
	switch op {
	case opDirty:
		if e == nil {
			e = &entry{key: key}
			c.entries[key] = e
		}
		e.editor = &Editor{entry: e}
	case opClean:
		if e == nil {
			e = &entry{key: key}
			c.entries[key] = e
		}
		e.editor = nil
		e.readable = true
		fmt.Sscanf(rest, "%d %d", &e.lengths[0], &e.lengths[1])
		c.size += e.totalLength()
		c.touch(e)
	case opRead:
		if e != nil {
			c.touch(e)
		}
	case opRemove:
		delete(c.entries, key)
	default:
		return ErrBadJournal
	}
	return nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// processEntriesAfterReplay drops entries left DIRTY (an edit that
// never committed before the process died) and removes their dirty
// files.
func (c *Cache) processEntriesAfterReplay() {
	for key, e := range c.entries {
		if e.editor != nil {
			delete(c.entries, key)
			os.Remove(e.dirtyPath(c.dir, 0))
			os.Remove(e.dirtyPath(c.dir, 1))
		}
	}
}

func (c *Cache) touch(e *entry) {
	for i, existing := range c.lru {
		if existing == e {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			break
		}
	}
	c.lru = append(c.lru, e)
}

// rebuildJournal writes a fresh journal.tmp reflecting only current
// CLEAN/DIRTY state (dropping redundant READ lines) and atomically
// renames it over journal (spec §4.9).
func (c *Cache) rebuildJournal() error {
	if c.journalFH != nil {
		c.journalFH.Close()
	}
	tmpPath := filepath.Join(c.dir, journalTmpFile)
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, journalMagic)
	fmt.Fprintln(w, journalVersion)
	fmt.Fprintln(w, c.appVersion)
	fmt.Fprintln(w, 2) // valueCount
	fmt.Fprintln(w)
	for _, e := range c.lru {
		if e.editor != nil {
			fmt.Fprintf(w, "%s %s\n", opDirty, e.key)
		} else {
			fmt.Fprintf(w, "%s %s %d %d\n", opClean, e.key, e.lengths[0], e.lengths[1])
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	journalPath := filepath.Join(c.dir, journalFile)
	if _, err := os.Stat(journalPath); err == nil {
		if err := os.Rename(journalPath, filepath.Join(c.dir, journalBkpFile)); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpPath, journalPath); err != nil {
		return err
	}
	os.Remove(filepath.Join(c.dir, journalBkpFile))

	fh, err := os.OpenFile(journalPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	c.journalFH = fh
	c.journalW = bufio.NewWriter(fh)
	c.redundantOps = 0
	return nil
}

func (c *Cache) journalLine(s string) {
	fmt.Fprintln(c.journalW, s)
	c.journalW.Flush()
}

// Get returns an open Snapshot for key if a committed entry exists.
func (c *Cache) Get(key string) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key]
	if e == nil || !e.readable || e.zombie {
		return nil, false
	}
	c.touch(e)
	c.redundantOps++
	c.journalLine(opRead + " " + key)
	c.maybeRebuildLocked()

	paths := [2]string{e.cleanPath(c.dir, 0), e.cleanPath(c.dir, 1)}
	return &Snapshot{lengths: e.lengths, paths: paths, sequence: e.sequence}, true
}

// Snapshot is a point-in-time view of one entry's two value files: it
// records their paths, lengths and the entry's commit sequence. It
// holds no open file and does not delay removal; a later eviction or
// Remove unlinks the files at once, so a file opened before that keeps
// reading on Unix, while a path opened after it no longer exists.
type Snapshot struct {
	lengths  [2]int64
	paths    [2]string
	sequence int64
}

func (s *Snapshot) MetadataPath() string   { return s.paths[0] }
func (s *Snapshot) BodyPath() string       { return s.paths[1] }
func (s *Snapshot) MetadataLength() int64  { return s.lengths[0] }
func (s *Snapshot) BodyLength() int64      { return s.lengths[1] }
func (s *Snapshot) Sequence() int64        { return s.sequence }

// Edit begins writing key, returning an Editor. Only one Editor may be
// open per key at a time (spec §4.9 "at most one Editor per key").
func (c *Cache) Edit(key string) (*Editor, error) {
	return c.editLocked(key, -1, false)
}

// EditIfMatch behaves like Edit but fails with ErrSequenceStale if the
// entry has been committed again since expectedSequence was observed
// (spec §4.9: "a later edit(key, expectedSequence) fails ... if the
// entry has been updated since").
func (c *Cache) EditIfMatch(key string, expectedSequence int64) (*Editor, error) {
	return c.editLocked(key, expectedSequence, true)
}

var ErrSequenceStale = errors.New("cache: entry modified since snapshot was taken")

func (c *Cache) editLocked(key string, expectedSequence int64, checkSequence bool) (*Editor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !validKey(key) {
		return nil, ErrBadKey
	}
	e := c.entries[key]
	if e != nil && e.editor != nil {
		return nil, ErrEditorInUse
	}
	if checkSequence && e != nil && e.sequence != expectedSequence {
		return nil, ErrSequenceStale
	}
	if e == nil {
		if checkSequence {
			return nil, ErrSequenceStale
		}
		e = &entry{key: key}
		c.entries[key] = e
	}
	ed := &Editor{entry: e, cache: c}
	e.editor = ed
	c.journalLine(opDirty + " " + key)
	return ed, nil
}

// Editor owns sinks for both dirty value files of one key (metadata
// at index 0, body at index 1).
type Editor struct {
	entry     *entry
	cache     *Cache
	committed bool
}

// DirtyMetadataPath and DirtyBodyPath are the temporary file paths the
// caller writes through before Commit.
func (ed *Editor) DirtyMetadataPath() string { return ed.entry.dirtyPath(ed.cache.dir, 0) }
func (ed *Editor) DirtyBodyPath() string     { return ed.entry.dirtyPath(ed.cache.dir, 1) }

// Commit atomically renames both dirty files to their clean
// counterparts (all-or-nothing), records the lengths, and appends a
// CLEAN journal record. On any failure the edit is aborted instead
// (spec §4.9/§3).
func (ed *Editor) Commit() error {
	c := ed.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	e := ed.entry
	var lengths [2]int64
	for i := 0; i < 2; i++ {
		dirty := e.dirtyPath(c.dir, i)
		info, err := os.Stat(dirty)
		if err != nil {
			ed.abortLocked()
			return err
		}
		lengths[i] = info.Size()
	}
	for i := 0; i < 2; i++ {
		if err := os.Rename(e.dirtyPath(c.dir, i), e.cleanPath(c.dir, i)); err != nil {
			ed.abortLocked()
			return err
		}
	}
	c.size += lengths[0] + lengths[1] - e.totalLength()
	e.lengths = lengths
	e.readable = true
	e.editor = nil
	e.sequence++
	ed.committed = true
	c.touch(e)
	c.journalLine(fmt.Sprintf("%s %s %d %d", opClean, e.key, lengths[0], lengths[1]))
	c.redundantOps++
	c.maybeRebuildLocked()
	c.trimToSizeLocked()
	return nil
}

// Abort deletes the dirty files and releases the edit lock on this key.
func (ed *Editor) Abort() {
	ed.cache.mu.Lock()
	defer ed.cache.mu.Unlock()
	ed.abortLocked()
}

func (ed *Editor) abortLocked() {
	e := ed.entry
	os.Remove(e.dirtyPath(ed.cache.dir, 0))
	os.Remove(e.dirtyPath(ed.cache.dir, 1))
	e.editor = nil
	if !e.readable {
		delete(ed.cache.entries, e.key)
	}
	if e.zombie {
		ed.cache.removeLocked(e)
	}
}

func (c *Cache) maybeRebuildLocked() {
	if c.redundantOps < redundantOpThreshold {
		return
	}
	c.rebuildJournal()
}

// trimToSizeLocked evicts oldest entries until size <= maxSize,
// marking an entry with an active editor as zombie instead of
// removing it outright (spec §4.9).
func (c *Cache) trimToSizeLocked() {
	for c.size > c.maxSize && len(c.lru) > 0 {
		e := c.lru[0]
		if e.editor != nil {
			e.zombie = true
			c.lru = c.lru[1:]
			continue
		}
		c.removeLocked(e)
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.size -= e.totalLength()
	delete(c.entries, e.key)
	for i, existing := range c.lru {
		if existing == e {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			break
		}
	}
	os.Remove(e.cleanPath(c.dir, 0))
	os.Remove(e.cleanPath(c.dir, 1))
	c.journalLine(opRemove + " " + e.key)
}

// Remove evicts key immediately, unless an Editor is active for it (in
// which case it becomes a zombie, removed when the editor finishes).
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key]
	if e == nil {
		return
	}
	if e.editor != nil {
		e.zombie = true
		return
	}
	c.removeLocked(e)
}

// Size reports the sum of entry lengths currently accounted for.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Close flushes and closes the journal file.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.journalW != nil {
		c.journalW.Flush()
	}
	if c.journalFH != nil {
		return c.journalFH.Close()
	}
	return nil
}
