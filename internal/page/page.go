// Package page implements the fixed-width bit-valued database page
// described in spec.md §4.1: a buffered in-memory image flushed to disk
// every F writes, with direct rollback support for recovery-driven undo.
package page

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cycledb/internal/archive"
	"cycledb/internal/faults"
)

// Width is W in spec.md: the number of bit-valued data items on the page.
const Width = 32

// FlushEvery is F in spec.md: the page auto-flushes once write_count is a
// multiple of this many writes.
const FlushEvery = 25

// Page is the in-memory image of the database plus its buffered
// persistence bookkeeping. The in-memory image is always the
// authoritative value visible to Read; Flush is the only operation that
// makes the on-disk file agree with it again.
type Page struct {
	dataPath       string
	checkpointPath string
	codec          archive.Codec

	bits       [Width]byte // each entry is '0' or '1'
	writeCount int
}

// New loads (or default-initializes) the page backed by dataPath. A
// missing or malformed data file — wrong length or non-bit characters —
// is treated as all zeros, per spec.md §6/§7.
func New(dataPath string) (*Page, error) {
	p := &Page{
		dataPath:       dataPath,
		checkpointPath: checkpointPath(dataPath),
		codec:          archive.LZ4{},
	}
	for i := range p.bits {
		p.bits[i] = '0'
	}

	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return nil, faults.WrapIO("page.New: mkdir", err)
	}

	raw, err := os.ReadFile(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			if ferr := p.Flush(); ferr != nil {
				return nil, ferr
			}
			return p, nil
		}
		return nil, faults.WrapIO("page.New: read", err)
	}

	text := strings.TrimSpace(string(raw))
	if isValidImage(text) {
		copy(p.bits[:], text)
	}
	// Malformed or wrong-length content silently falls back to all zeros
	// (spec.md §7); no fault is raised because this is not an I/O error.
	return p, nil
}

func isValidImage(s string) bool {
	if len(s) != Width {
		return false
	}
	for _, c := range s {
		if c != '0' && c != '1' {
			return false
		}
	}
	return true
}

func checkpointPath(dataPath string) string {
	dir := filepath.Dir(dataPath)
	return filepath.Join(dir, "db.checkpoint.lz4")
}

// Read returns the bit at did, or false as ok if did is out of range.
func (p *Page) Read(did int) (byte, bool) {
	if did < 0 || did >= Width {
		return 0, false
	}
	return p.bits[did], true
}

// Write validates value and did, updates the in-memory bit, and
// auto-flushes every FlushEvery writes. trid is accepted to mirror the
// original source's signature (it identifies the writer for tracing) but
// is not itself persisted — the log, not the page, records who wrote what.
func (p *Page) Write(trid int, did int, value byte) error {
	_ = trid
	if did < 0 || did >= Width || (value != '0' && value != '1') {
		return nil
	}
	p.bits[did] = value
	p.writeCount++
	if p.writeCount%FlushEvery == 0 {
		return p.Flush()
	}
	return nil
}

// Rollback directly overwrites a bit without emitting a log record; used
// exclusively by recovery-driven undo (spec.md §4.1).
func (p *Page) Rollback(did int, oldValue byte) {
	if did < 0 || did >= Width || (oldValue != '0' && oldValue != '1') {
		return
	}
	p.bits[did] = oldValue
}

// Flush writes the full page image in a single open+write+close and
// resets write_count. After Flush returns nil, the on-disk page equals
// the in-memory page (spec.md §8 invariant).
func (p *Page) Flush() error {
	if err := os.WriteFile(p.dataPath, p.bits[:], 0o644); err != nil {
		return faults.WrapIO("page.Flush: write data file", err)
	}
	p.writeCount = 0

	compressed, err := p.codec.Compress(p.bits[:])
	if err != nil {
		return faults.WrapIO("page.Flush: compress checkpoint", err)
	}
	if err := os.WriteFile(p.checkpointPath, compressed, 0o644); err != nil {
		return faults.WrapIO("page.Flush: write checkpoint", err)
	}
	return nil
}

// Image returns the current 32-character in-memory image.
func (p *Page) Image() string {
	return string(p.bits[:])
}

// Close reports the final in-memory image, matching spec.md §6's
// required shutdown banner.
func (p *Page) Close() string {
	image := p.Image()
	fmt.Println("Database Internal State Before Crash:")
	fmt.Println(image)
	return image
}
