package sink

import (
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/valyala/fastjson"
)

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

func TestSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSegment(dir, MaxBufferedRows(4))
	if err != nil {
		t.Fatal(err)
	}

	const total = 10
	for i := 0; i < total; i++ {
		r := sampleRecord()
		r.Line = i
		if _, err := s.Handle(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	files := segmentFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	rows, err := ReadSegment(files[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != total {
		t.Fatalf("read %d rows, want %d", len(rows), total)
	}
	for i, row := range rows {
		v, err := fastjson.ParseBytes(row)
		if err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
		if got := v.GetInt("line"); got != i {
			t.Errorf("row %d has line %d", i, got)
		}
	}
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	// Tiny limits so a handful of records forces a rotation.
	s, err := NewSegment(dir, MaxBufferedRows(1), MaxFileBytes(64))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Handle(context.Background(), sampleRecord()); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if files := segmentFiles(t, dir); len(files) < 2 {
		t.Errorf("expected rotation, got %d files", len(files))
	}
}

func TestSealedSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		t.Fatal(err)
	}

	s, err := NewSegment(dir, Sealed(key))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Handle(context.Background(), sampleRecord()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	files := segmentFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("got %d files", len(files))
	}

	rows, err := ReadSegment(files[0], key)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("read %d rows", len(rows))
	}

	if _, err := ReadSegment(files[0], nil); err == nil {
		t.Error("sealed segment readable without a key")
	}
	wrong := make([]byte, 32)
	if _, err := ReadSegment(files[0], wrong); err == nil {
		t.Error("sealed segment readable with the wrong key")
	}
}

func TestSegmentRejectsBadOptions(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewSegment(dir, Sealed([]byte("short"))); err == nil {
		t.Error("short key accepted")
	}
	if _, err := NewSegment(dir, MaxFileBytes(0)); err == nil {
		t.Error("zero rotation size accepted")
	}
	if _, err := NewSegment(dir, MaxBufferedRows(-1)); err == nil {
		t.Error("negative row buffer accepted")
	}
}

func TestReadSegmentRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-segment")
	if err := os.WriteFile(path, []byte("plain text, definitely no magic"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSegment(path, nil); err == nil {
		t.Error("foreign file accepted as segment")
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")

	key, created, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first call should generate a key")
	}
	if len(key) != 32 {
		t.Fatalf("key length %d", len(key))
	}

	again, created, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second call regenerated the key")
	}
	if string(again) != string(key) {
		t.Error("key not stable across loads")
	}

	t.Setenv("SCOPELOG_MASTER_KEY", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	envKey, created, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if created || envKey[0] != 0x00 || envKey[1] != 0x11 {
		t.Error("environment key did not take precedence")
	}

	t.Setenv("SCOPELOG_MASTER_KEY", "nothex")
	if _, _, err := LoadOrCreateKey(path); err == nil {
		t.Error("malformed environment key accepted")
	}
}
