// Package walog implements spec.md §4.4: the on-disk log record shapes,
// an append-only log store with a bounded write buffer, and the
// recovery manager's three-phase analysis/redo/undo algorithm.
package walog

import (
	"strconv"
	"strings"
)

// Kind distinguishes the three log record shapes of spec.md §3.
type Kind int

const (
	Start Kind = iota
	Update
	Commit
	Rollback
)

// Record is one decoded log line. DID and Old are only meaningful for
// Update records.
type Record struct {
	Kind Kind
	Trid int
	DID  int
	Old  byte
}

// Encode renders r in the exact comma-separated shape spec.md §3
// requires: `trid,S` / `trid,did,old_value,F` / `trid,C` / `trid,R`.
func (r Record) Encode() string {
	switch r.Kind {
	case Start:
		return strconv.Itoa(r.Trid) + ",S"
	case Update:
		return strconv.Itoa(r.Trid) + "," + strconv.Itoa(r.DID) + "," + string(r.Old) + ",F"
	case Commit:
		return strconv.Itoa(r.Trid) + ",C"
	case Rollback:
		return strconv.Itoa(r.Trid) + ",R"
	default:
		return ""
	}
}

// Parse decodes one log line. It reports false for anything that isn't
// one of the three shapes — per spec.md §7, a malformed record is
// ignored by the caller and scanning continues; it is never fatal.
func Parse(line string) (Record, bool) {
	fields := strings.Split(line, ",")
	switch len(fields) {
	case 2:
		trid, err := strconv.Atoi(fields[0])
		if err != nil {
			return Record{}, false
		}
		switch fields[1] {
		case "S":
			return Record{Kind: Start, Trid: trid}, true
		case "C":
			return Record{Kind: Commit, Trid: trid}, true
		case "R":
			return Record{Kind: Rollback, Trid: trid}, true
		default:
			return Record{}, false
		}
	case 4:
		if fields[3] != "F" {
			return Record{}, false
		}
		trid, err1 := strconv.Atoi(fields[0])
		did, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil || len(fields[2]) != 1 {
			return Record{}, false
		}
		old := fields[2][0]
		if old != '0' && old != '1' {
			return Record{}, false
		}
		return Record{Kind: Update, Trid: trid, DID: did, Old: old}, true
	default:
		return Record{}, false
	}
}
