// Package locklist implements the ordered per-data-item holder sequence
// of spec.md §4.2: a lock list supporting append/remove/find by
// transaction id, preserving insertion order so that a waiter can see
// which holders preceded it.
package locklist

// Mode is the lock mode held by a Holder.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "X"
	}
	return "S"
}

// Holder is a (transaction_id, mode) pair recording a granted lock.
type Holder struct {
	TxnID int
	Mode  Mode
}

// List is an insertion-ordered sequence of Holders for one data item. A
// slice is the idiomatic Go rendition of the ordered container spec.md
// §4.2 calls for — O(n) find/remove by transaction id, order preserved.
type List struct {
	holders []Holder
}

// Append adds h to the end of the sequence.
func (l *List) Append(h Holder) {
	l.holders = append(l.holders, h)
}

// Find returns the holder for trid and whether it exists.
func (l *List) Find(trid int) (Holder, bool) {
	for _, h := range l.holders {
		if h.TxnID == trid {
			return h, true
		}
	}
	return Holder{}, false
}

// Upgrade changes the mode of the holder owned by trid in place. It
// returns false if trid holds no lock on this item.
func (l *List) Upgrade(trid int, mode Mode) bool {
	for i := range l.holders {
		if l.holders[i].TxnID == trid {
			l.holders[i].Mode = mode
			return true
		}
	}
	return false
}

// Remove deletes the holder owned by trid, if present, and reports
// whether anything was removed.
func (l *List) Remove(trid int) bool {
	for i, h := range l.holders {
		if h.TxnID == trid {
			l.holders = append(l.holders[:i], l.holders[i+1:]...)
			return true
		}
	}
	return false
}

// Holders returns the current sequence in insertion order. Callers must
// not mutate the returned slice.
func (l *List) Holders() []Holder {
	return l.holders
}

// Len reports the number of holders currently in the sequence.
func (l *List) Len() int {
	return len(l.holders)
}
