package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEditCommitThenGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "1", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ed, err := c.Edit("abc123")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, ed.DirtyMetadataPath(), "meta")
	writeFile(t, ed.DirtyBodyPath(), "hello world")
	if err := ed.Commit(); err != nil {
		t.Fatal(err)
	}

	snap, ok := c.Get("abc123")
	if !ok {
		t.Fatal("expected entry to be readable after commit")
	}
	if snap.BodyLength() != int64(len("hello world")) {
		t.Fatalf("body length = %d", snap.BodyLength())
	}
	if _, err := os.Stat(snap.BodyPath()); err != nil {
		t.Fatalf("clean body file missing: %v", err)
	}
}

func TestAbortDeletesDirtyFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "1", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ed, err := c.Edit("deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, ed.DirtyMetadataPath(), "meta")
	ed.Abort()

	if _, ok := c.Get("deadbeef"); ok {
		t.Fatal("aborted edit must not be readable")
	}
	if _, err := os.Stat(ed.DirtyMetadataPath()); !os.IsNotExist(err) {
		t.Fatal("expected dirty file to be removed")
	}
}

func TestOnlyOneEditorPerKey(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "1", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Edit("k"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Edit("k"); err != ErrEditorInUse {
		t.Fatalf("err = %v, want ErrEditorInUse", err)
	}
}

func commitEntry(t *testing.T, c *Cache, key, meta, body string) {
	t.Helper()
	ed, err := c.Edit(key)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, ed.DirtyMetadataPath(), meta)
	writeFile(t, ed.DirtyBodyPath(), body)
	if err := ed.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestTrimToSizeEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "1", 10)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	commitEntry(t, c, "first", "m", "01234")
	commitEntry(t, c, "second", "m", "56789")
	// each entry is 6 bytes: the second commit pushes size to 12 > 10,
	// evicting "first" (oldest in LRU order); the third evicts "second"
	commitEntry(t, c, "third", "m", "abcde")

	if _, ok := c.Get("first"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("third"); !ok {
		t.Fatal("expected most recent entry to remain")
	}
}

func TestEditorZombieUntilReleased(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "1", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	commitEntry(t, c, "x", "m", "0123456789")
	ed, err := c.Edit("x")
	if err != nil {
		t.Fatal(err)
	}
	c.Remove("x") // marks zombie instead of deleting immediately
	if _, err := os.Stat(filepath.Join(dir, "x.1")); err != nil {
		t.Fatal("clean files must survive while editor is active")
	}
	ed.Abort()
}

func TestRecoverFromExistingJournal(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "1", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	commitEntry(t, c, "persisted", "m", "value")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := Open(dir, "1", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if _, ok := c2.Get("persisted"); !ok {
		t.Fatal("expected entry to survive reopen via journal replay")
	}
}

func TestEditIfMatchRejectsStaleSequence(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "1", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	commitEntry(t, c, "k", "m1", "v1")
	snap, ok := c.Get("k")
	if !ok {
		t.Fatal("expected entry")
	}
	commitEntry(t, c, "k", "m2", "v2")

	if _, err := c.EditIfMatch("k", snap.Sequence()); err != ErrSequenceStale {
		t.Fatalf("err = %v, want ErrSequenceStale", err)
	}
}

func TestBadKeyRejected(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "1", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Edit("Has Uppercase And Spaces"); err != ErrBadKey {
		t.Fatalf("err = %v, want ErrBadKey", err)
	}
}
