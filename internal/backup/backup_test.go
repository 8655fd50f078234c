package backup

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestSnapshotRestore(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte{0x00, 0xFF, 0x12, 0x34}, 256)

	path, err := Snapshot(dir, "/some/where/tag-dump.bin", data)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("snapshot written outside %s: %s", dir, path)
	}
	if !strings.HasPrefix(filepath.Base(path), "tag-dump.bin.") || !strings.HasSuffix(path, Suffix) {
		t.Errorf("unexpected snapshot name %q", filepath.Base(path))
	}

	restored, err := Restore(path)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("restored bytes differ from the original")
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()

	if got, err := List(filepath.Join(dir, "missing"), "x"); err != nil || len(got) != 0 {
		t.Errorf("List on missing dir = %v, %v", got, err)
	}

	if _, err := Snapshot(dir, "a-dump.bin", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := Snapshot(dir, "b-dump.bin", []byte("b")); err != nil {
		t.Fatal(err)
	}

	got, err := List(dir, "a-dump.bin")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 snapshot for a-dump.bin, got %d", len(got))
	}
}
