package walog

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"cycledb/internal/archive"
	"cycledb/internal/faults"
)

// bufferCapacity is F of spec.md §4.4's log buffering rule: log_update
// flushes once the buffer reaches this many pending records.
const bufferCapacity = 25

// Store is the append-only log file of spec.md §3/§6 (data/log.csv),
// fronted by a small in-memory write buffer. It is owned exclusively by
// the recovery manager; no other component opens the log file.
type Store struct {
	path   string
	buffer []string
}

// NewStore ensures path exists (creating it empty if missing) and
// returns a Store ready to append to it.
func NewStore(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, faults.WrapIO("walog.stat", err)
		}
		f, cerr := os.Create(path)
		if cerr != nil {
			return nil, faults.WrapIO("walog.create", cerr)
		}
		if cerr := f.Close(); cerr != nil {
			return nil, faults.WrapIO("walog.create", cerr)
		}
	}
	return &Store{path: path}, nil
}

// Append queues rec for the next flush. Callers decide when immediate
// flushing is required (log_start/log_commit/log_rollback always flush;
// log_update flushes only once bufferCapacity is reached).
func (s *Store) Append(rec Record) {
	s.buffer = append(s.buffer, rec.Encode())
}

// Len reports the number of buffered, not-yet-flushed records.
func (s *Store) Len() int {
	return len(s.buffer)
}

// Flush appends the buffered records to the log file and clears the
// buffer. A scoped file handle is opened, written, and closed on every
// call — no handle outlives this call (spec.md §9 "Global state").
func (s *Store) Flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return faults.WrapIO("walog.flush.open", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, line := range s.buffer {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return faults.WrapIO("walog.flush.write", err)
		}
	}
	if err := w.Flush(); err != nil {
		return faults.WrapIO("walog.flush.write", err)
	}
	s.buffer = s.buffer[:0]
	return nil
}

// ScanForward flushes any buffered records, then reads the log file top
// to bottom, decoding each line. Malformed lines are skipped and logged
// rather than treated as failures, per spec.md §7.
func (s *Store) ScanForward() ([]Record, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, faults.WrapIO("walog.scan.open", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, ok := Parse(line)
		if !ok {
			fault := faults.WrapCorruption("walog.scan.parse", fmt.Errorf("malformed record %q", line))
			log.Printf("walog: %v, skipping and continuing scan", fault)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, faults.WrapIO("walog.scan.read", err)
	}
	return records, nil
}

// ScanBackward returns the same decoded records as ScanForward but in
// reverse order, for the backward passes of per-transaction undo and
// crash-recovery undo.
func (s *Store) ScanBackward() ([]Record, error) {
	records, err := s.ScanForward()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Truncate archives the current log contents (hot-path snappy, optional
// cold-tier zstd per SPEC_FULL.md §3) and then resets the log file to
// empty, as spec.md §4.4 "Log truncation" requires after a successful
// recover().
func (s *Store) Truncate(archiver *archiver) error {
	raw, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return faults.WrapIO("walog.truncate.read", err)
	}
	if len(raw) > 0 && archiver != nil {
		if err := archiver.archive(raw); err != nil {
			return err
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		return faults.WrapIO("walog.truncate.reset", err)
	}
	if err := f.Close(); err != nil {
		return faults.WrapIO("walog.truncate.reset", err)
	}
	return nil
}

// archiver wraps the two archive.Codec tiers SPEC_FULL.md §3 wires into
// log truncation: every truncation is snappy-archived synchronously;
// when coldEvery > 0, every coldEvery-th archive is additionally
// re-compressed with zstd for long-term retention.
type archiver struct {
	dir       string
	hot       archive.Codec
	cold      archive.Codec
	coldEvery int
	seq       int
}

func newArchiver(dir string, coldEvery int) *archiver {
	return &archiver{
		dir:       dir,
		hot:       archive.Snappy{},
		cold:      archive.Zstd{},
		coldEvery: coldEvery,
	}
}

func (a *archiver) archive(raw []byte) error {
	a.seq++
	compressed, err := a.hot.Compress(raw)
	if err != nil {
		return faults.WrapIO("archive.snappy", err)
	}
	hotPath := filepath.Join(a.dir, "log.archive."+strconv.Itoa(a.seq)+"."+a.hot.Extension())
	if err := os.WriteFile(hotPath, compressed, 0o644); err != nil {
		return faults.WrapIO("archive.snappy.write", err)
	}

	if a.coldEvery > 0 && a.seq%a.coldEvery == 0 {
		coldCompressed, err := a.cold.Compress(raw)
		if err != nil {
			return faults.WrapIO("archive.zstd", err)
		}
		coldPath := filepath.Join(a.dir, "log.archive."+strconv.Itoa(a.seq)+"."+a.cold.Extension())
		if err := os.WriteFile(coldPath, coldCompressed, 0o644); err != nil {
			return faults.WrapIO("archive.zstd.write", err)
		}
	}
	return nil
}
