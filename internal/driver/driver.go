// Package driver implements spec.md §4.5: the cycle driver that starts
// transactions, drives each active transaction's next read or write
// operation through the lock manager and the page, commits finished
// transactions, and invokes deadlock detection once per cycle.
package driver

import (
	"log"
	"sort"

	"cycledb/internal/lockmgr"
	"cycledb/internal/locklist"
	"cycledb/internal/page"
	"cycledb/internal/walog"
)

// RandSource is satisfied by *math/rand.Rand; the driver never reaches
// for the global rand functions so a run is reproducible given a seed
// (spec.md §5).
type RandSource interface {
	Float64() float64
	Intn(n int) int
}

// noDID is the ⊥ sentinel for "this transaction has not yet touched a
// data item" (the original source's last_did=None).
const noDID = -1

// Driver owns next_trid, active_transactions and completed_transactions
// (spec.md §4.5) and the randomized workload draws that exercise the
// lock manager and recovery manager.
type Driver struct {
	pg  *page.Page
	lm  *lockmgr.Manager
	rm  *walog.RecoveryManager
	rng RandSource

	startProb float64
	writeProb float64
	transSize int

	nextTrid   int
	active     map[int]lockmgr.TxnState
	completed  map[int]bool
	rolledBack map[int]bool

	verbose bool
}

// New creates a Driver seeded with nextTrid (normally the value
// returned by RecoveryManager.Recover). verbose gates the per-cycle and
// per-transaction narration RunCycle emits via log.Printf (SPEC_FULL.md
// §2.2, the cmd/cycledb -v flag).
func New(pg *page.Page, lm *lockmgr.Manager, rm *walog.RecoveryManager, rng RandSource, startProb, writeProb float64, transSize, nextTrid int, verbose bool) *Driver {
	return &Driver{
		pg:         pg,
		lm:         lm,
		rm:         rm,
		rng:        rng,
		startProb:  startProb,
		writeProb:  writeProb,
		transSize:  transSize,
		nextTrid:   nextTrid,
		active:     make(map[int]lockmgr.TxnState),
		completed:  make(map[int]bool),
		rolledBack: make(map[int]bool),
		verbose:    verbose,
	}
}

// Run executes cycles logical cycles in sequence.
func (d *Driver) Run(cycles int) error {
	for cycle := 0; cycle < cycles; cycle++ {
		if err := d.RunCycle(cycle); err != nil {
			return err
		}
	}
	return nil
}

// RunCycle executes one logical cycle of spec.md §4.5: an optional
// transaction start, one operation per currently active transaction
// (or a commit, for transactions that have finished their quota), and
// one end-of-cycle deadlock detection pass.
func (d *Driver) RunCycle(cycle int) error {
	if d.verbose {
		log.Printf("cycle %d: %d active transaction(s)", cycle, len(d.active))
	}

	if d.rng.Float64() < d.startProb {
		trid := d.nextTrid
		d.nextTrid++
		d.active[trid] = lockmgr.TxnState{OpsDone: 0, LastDID: noDID}
		if err := d.rm.LogStart(trid); err != nil {
			return err
		}
		if d.verbose {
			log.Printf("cycle %d: started transaction %d", cycle, trid)
		}
	}

	// Iterate a sorted snapshot of keys: new transactions allocate trids
	// in increasing order, so sorting gives the same deterministic
	// traversal order the original's insertion-ordered dict provided,
	// and rollback-driven removals mid-loop are safe since trids is a
	// copy (spec.md §4.5 "iteration over a snapshot of keys").
	trids := make([]int, 0, len(d.active))
	for trid := range d.active {
		trids = append(trids, trid)
	}
	sort.Ints(trids)

	for _, trid := range trids {
		state, ok := d.active[trid]
		if !ok {
			continue // removed by an earlier deadlock-victim rollback this cycle
		}

		if state.OpsDone < d.transSize {
			did := d.rng.Intn(page.Width)
			if d.rng.Float64() < d.writeProb {
				if err := d.write(trid, did); err != nil {
					return err
				}
			} else {
				d.read(trid, did)
			}
			d.active[trid] = lockmgr.TxnState{OpsDone: state.OpsDone + 1, LastDID: did}
			continue
		}

		if err := d.rm.LogCommit(trid); err != nil {
			return err
		}
		d.lm.ReleaseAll(trid)
		delete(d.active, trid)
		d.completed[trid] = true
		if d.verbose {
			log.Printf("cycle %d: committed transaction %d", cycle, trid)
		}
	}

	d.detectDeadlock(cycle)
	return nil
}

// detectDeadlock runs end-of-cycle deadlock detection and folds any
// trid the lock manager removed from active (directly, by reference)
// into the rolled-back accounting for Summary.
func (d *Driver) detectDeadlock(cycle int) {
	before := make(map[int]bool, len(d.active))
	for trid := range d.active {
		before[trid] = true
	}
	d.lm.DetectDeadlock(d.active, d.rm, cycle)
	for trid := range before {
		if _, stillActive := d.active[trid]; !stillActive {
			d.rolledBack[trid] = true
			if d.verbose {
				log.Printf("cycle %d: rolled back transaction %d (deadlock victim or timeout)", cycle, trid)
			}
		}
	}
}

// write performs the write half of spec.md §4.5's per-operation step:
// read the old bit, compute its complement, attempt an X lock, and only
// on success log the update before writing the new value — the
// write-ahead ordering spec.md §4.4 requires.
func (d *Driver) write(trid, did int) error {
	old, ok := d.pg.Read(did)
	if !ok {
		return nil
	}
	newValue := byte('1')
	if old == '1' {
		newValue = '0'
	}
	if !d.lm.Acquire(trid, did, locklist.Exclusive) {
		if d.verbose {
			log.Printf("transaction %d: write did=%d denied, waiting", trid, did)
		}
		return nil
	}
	if err := d.rm.LogUpdate(trid, did, old); err != nil {
		return err
	}
	if d.verbose {
		log.Printf("transaction %d: write did=%d %c -> %c", trid, did, old, newValue)
	}
	return d.pg.Write(trid, did, newValue)
}

// read performs the read half: attempt an S lock and, if granted, read.
func (d *Driver) read(trid, did int) {
	if !d.lm.Acquire(trid, did, locklist.Shared) {
		if d.verbose {
			log.Printf("transaction %d: read did=%d denied, waiting", trid, did)
		}
		return
	}
	value, _ := d.pg.Read(did)
	if d.verbose {
		log.Printf("transaction %d: read did=%d -> %c", trid, did, value)
	}
}

// Summary reports the three terminal counts SPEC_FULL.md §4 adds to the
// original's unreported completed_transactions bookkeeping.
func (d *Driver) Summary() (committed, rolledBack, stillActive int) {
	return len(d.completed), len(d.rolledBack), len(d.active)
}
