package page

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestPage(t *testing.T) (*Page, string) {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "db.txt")
	p, err := New(dataPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, dataPath
}

func TestNewDefaultsToAllZeros(t *testing.T) {
	p, _ := newTestPage(t)
	for i := 0; i < Width; i++ {
		v, ok := p.Read(i)
		if !ok || v != '0' {
			t.Fatalf("bit %d = %q, ok=%v; want '0', true", i, v, ok)
		}
	}
}

func TestMalformedDataFileFallsBackToZeros(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "db.txt")
	if err := os.WriteFile(dataPath, []byte("not-bits"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := New(dataPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Image() != strings.Repeat("0", Width) {
		t.Fatalf("Image() = %q, want all zeros", p.Image())
	}
}

func TestReadOutOfRange(t *testing.T) {
	p, _ := newTestPage(t)
	if _, ok := p.Read(-1); ok {
		t.Fatal("Read(-1) should report ok=false")
	}
	if _, ok := p.Read(Width); ok {
		t.Fatal("Read(Width) should report ok=false")
	}
}

func TestWriteOutOfRangeIsNoOp(t *testing.T) {
	p, _ := newTestPage(t)
	if err := p.Write(1, -1, '1'); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Write(1, Width, '1'); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Write(1, 5, '2'); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, _ := p.Read(5)
	if v != '0' {
		t.Fatalf("Read(5) = %q, want '0' (invalid writes must be no-ops)", v)
	}
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	p, _ := newTestPage(t)
	if err := p.Write(1, 5, '1'); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, ok := p.Read(5)
	if !ok || v != '1' {
		t.Fatalf("Read(5) = %q, ok=%v; want '1', true", v, ok)
	}
}

func TestAutoFlushEveryF(t *testing.T) {
	p, dataPath := newTestPage(t)
	for i := 0; i < FlushEvery-1; i++ {
		if err := p.Write(1, 0, '1'); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	// write_count is FlushEvery-1, not yet a multiple of F: on-disk file
	// still reflects the state from New's initial flush (all zeros).
	onDisk, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != strings.Repeat("0", Width) {
		t.Fatalf("on-disk image flushed early: %q", onDisk)
	}

	if err := p.Write(1, 0, '1'); err != nil { // the Fth write triggers flush
		t.Fatalf("Write: %v", err)
	}
	onDisk, err = os.ReadFile(dataPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != p.Image() {
		t.Fatalf("after auto-flush, on-disk image %q != in-memory image %q", onDisk, p.Image())
	}
}

func TestFlushInvariant(t *testing.T) {
	p, dataPath := newTestPage(t)
	if err := p.Write(1, 10, '1'); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	onDisk, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != p.Image() {
		t.Fatalf("on-disk %q != in-memory %q after Flush", onDisk, p.Image())
	}
	if _, err := os.Stat(checkpointPath(dataPath)); err != nil {
		t.Fatalf("expected lz4 checkpoint to be written: %v", err)
	}
}

func TestRollbackSkipsLog(t *testing.T) {
	p, _ := newTestPage(t)
	if err := p.Write(1, 3, '1'); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p.Rollback(3, '0')
	v, _ := p.Read(3)
	if v != '0' {
		t.Fatalf("Read(3) = %q after rollback, want '0'", v)
	}
}

func TestRollbackInvalidIsNoOp(t *testing.T) {
	p, _ := newTestPage(t)
	p.Rollback(-1, '1')
	p.Rollback(100, '1')
	p.Rollback(3, '9')
	v, _ := p.Read(3)
	if v != '0' {
		t.Fatalf("Read(3) = %q, want unchanged '0'", v)
	}
}

func TestCloseReportsImage(t *testing.T) {
	p, _ := newTestPage(t)
	if err := p.Write(1, 5, '1'); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := p.Close()
	if got != p.Image() {
		t.Fatalf("Close() = %q, want %q", got, p.Image())
	}
}
