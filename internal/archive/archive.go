// Package archive provides the additive, read-never-comes-back-from-here
// compression snapshots described in SPEC_FULL.md §3: a codec interface
// with three interchangeable backends, one per teacher dependency, so the
// live CSV log and plaintext page file never change format.
package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses a byte slice for cold storage. Nothing in this system
// decompresses archives on the recovery path; Decompress exists only so
// operators (and tests) can verify an archive round-trips.
type Codec interface {
	Name() string
	Extension() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Snappy is the hot-path codec used to archive a log segment synchronously
// during RecoveryManager.Recover (SPEC_FULL.md §3): fastest of the three,
// chosen because archiving runs inline before the log is truncated.
type Snappy struct{}

func (Snappy) Name() string      { return "snappy" }
func (Snappy) Extension() string { return "snappy" }

func (Snappy) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (Snappy) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// Zstd is the cold-tier codec used for the periodic second archive of
// log segments that are also snappy-archived: better ratio, written in
// the same truncation step as the snappy archive when enabled.
type Zstd struct{}

func (Zstd) Name() string      { return "zstd" }
func (Zstd) Extension() string { return "zst" }

func (Zstd) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("archive: new zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("archive: new zstd decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// LZ4 backs the page component's redundant checkpoint snapshot
// (internal/page), taken every F writes alongside the authoritative
// plaintext data file.
type LZ4 struct{}

func (LZ4) Name() string      { return "lz4" }
func (LZ4) Extension() string { return "lz4" }

func (LZ4) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("archive: lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("archive: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (LZ4) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("archive: lz4 read: %w", err)
	}
	return out, nil
}
