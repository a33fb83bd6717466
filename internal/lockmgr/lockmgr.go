// Package lockmgr implements spec.md §4.3: strict two-phase lock
// acquisition/release, wait-for graph construction, DFS cycle detection,
// victim selection, and timeout-based rollback. The manager never calls
// back into the recovery manager except through the narrow Rollbacker
// interface (spec.md §9 "Coordinator coupling"), so this package has no
// dependency on internal/walog.
package lockmgr

import (
	"sort"

	"cycledb/internal/locklist"
)

// Rollbacker is the one-way seam into the recovery manager: victim
// rollback (spec.md §4.3.1) reverses all logged updates and appends an R
// record, but the recovery manager itself never calls into lockmgr.
type Rollbacker interface {
	Rollback(trid int) error
}

// RandSource is satisfied by *math/rand.Rand; injecting it keeps
// deadlock-resolution draws reproducible given a seed (spec.md §5).
type RandSource interface {
	Float64() float64
}

// TxnState is the (ops_done, last_did) pair the cycle driver tracks per
// active transaction. Victim selection reads OpsDone only; last_did is
// carried here so the driver and this package share one type.
type TxnState struct {
	OpsDone int
	LastDID int
}

// WaitRequest is the single outstanding (did, mode) a blocked transaction
// is waiting on.
type WaitRequest struct {
	DID  int
	Mode locklist.Mode
}

// Manager holds the lock table, the transaction-locks mirror, the
// waiting set, and the blocked-since map of spec.md §3.
type Manager struct {
	rollbackProb float64
	timeout      int
	rng          RandSource

	table        map[int]*locklist.List
	waiting      map[int]WaitRequest
	txnLocks     map[int]map[int]bool
	blockedSince map[int]int
}

// New creates a Manager. rollbackProb is the probability an immediately
// detected deadlock victim is rolled back on the spot rather than
// deferred to the timeout path; timeout is the cycle-age threshold for
// that deferred path.
func New(rollbackProb float64, timeout int, rng RandSource) *Manager {
	return &Manager{
		rollbackProb: rollbackProb,
		timeout:      timeout,
		rng:          rng,
		table:        make(map[int]*locklist.List),
		waiting:      make(map[int]WaitRequest),
		txnLocks:     make(map[int]map[int]bool),
		blockedSince: make(map[int]int),
	}
}

func (m *Manager) listFor(did int) *locklist.List {
	l, ok := m.table[did]
	if !ok {
		l = &locklist.List{}
		m.table[did] = l
	}
	return l
}

// Acquire implements the acquisition algorithm of spec.md §4.3.
//
// The S→X upgrade policy follows the strict reading of the §9 open
// question: an upgrade by the sole holder always succeeds; an upgrade
// while other S holders exist is treated as incompatible and the
// transaction waits, preserving the §8 invariant that an X holder is
// always unique (see DESIGN.md decision 1).
func (m *Manager) Acquire(trid, did int, mode locklist.Mode) bool {
	list := m.listFor(did)

	if h, held := list.Find(trid); held {
		if h.Mode == locklist.Shared && mode == locklist.Exclusive {
			if list.Len() == 1 {
				list.Upgrade(trid, locklist.Exclusive)
				delete(m.waiting, trid)
				return true
			}
			m.waiting[trid] = WaitRequest{DID: did, Mode: mode}
			return false
		}
		delete(m.waiting, trid)
		return true
	}

	for _, h := range list.Holders() {
		incompatible := h.Mode == locklist.Exclusive || (mode == locklist.Exclusive && h.Mode == locklist.Shared)
		if incompatible {
			m.waiting[trid] = WaitRequest{DID: did, Mode: mode}
			return false
		}
	}

	list.Append(locklist.Holder{TxnID: trid, Mode: mode})
	if m.txnLocks[trid] == nil {
		m.txnLocks[trid] = make(map[int]bool)
	}
	m.txnLocks[trid][did] = true
	delete(m.waiting, trid)
	return true
}

// Release removes trid's holder on did, if any, and reports whether one
// was removed.
func (m *Manager) Release(trid, did int) bool {
	list, ok := m.table[did]
	if !ok {
		return false
	}
	if !list.Remove(trid) {
		return false
	}
	if set := m.txnLocks[trid]; set != nil {
		delete(set, did)
		if len(set) == 0 {
			delete(m.txnLocks, trid)
		}
	}
	return true
}

// ReleaseAll releases every lock held by trid.
func (m *Manager) ReleaseAll(trid int) {
	set, ok := m.txnLocks[trid]
	if !ok {
		return
	}
	dids := make([]int, 0, len(set))
	for did := range set {
		dids = append(dids, did)
	}
	for _, did := range dids {
		m.Release(trid, did)
	}
}

// Close releases all lock-manager state, matching the original source's
// lock_manager.close().
func (m *Manager) Close() {
	m.table = make(map[int]*locklist.List)
	m.waiting = make(map[int]WaitRequest)
	m.txnLocks = make(map[int]map[int]bool)
	m.blockedSince = make(map[int]int)
}

// buildWaitForGraph constructs the disposable wait-for graph of spec.md
// §4.3 on demand: edge holder -> waiter for every transaction the holder
// blocks. Neighbor lists are sorted so DFS traversal order — and
// therefore which transaction a given run flags as the deadlock
// candidate — is reproducible given a seed (spec.md §5).
func (m *Manager) buildWaitForGraph() map[int][]int {
	edges := make(map[int]map[int]bool)
	for trid, req := range m.waiting {
		list, ok := m.table[req.DID]
		if !ok {
			continue
		}
		for _, h := range list.Holders() {
			if h.TxnID == trid {
				continue
			}
			if edges[h.TxnID] == nil {
				edges[h.TxnID] = make(map[int]bool)
			}
			edges[h.TxnID][trid] = true
		}
	}

	graph := make(map[int][]int, len(edges))
	for src, dsts := range edges {
		list := make([]int, 0, len(dsts))
		for d := range dsts {
			list = append(list, d)
		}
		sort.Ints(list)
		graph[src] = list
	}
	return graph
}

// detectCycle runs DFS with a recursion stack over the wait-for graph.
// Per DESIGN.md decision 2, the exact recursion stack at the moment a
// back-edge is found is returned as the candidate cycle — a faithful
// port of the source's rec_stack, which may over-approximate the true
// strongly connected component for longer wait chains.
func (m *Manager) detectCycle() ([]int, bool) {
	graph := m.buildWaitForGraph()

	nodes := make([]int, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)

	visited := make(map[int]bool)
	for _, n := range nodes {
		if visited[n] {
			continue
		}
		if cycle := dfsCycle(n, graph, visited, nil, make(map[int]bool)); cycle != nil {
			return cycle, true
		}
	}
	return nil, false
}

func dfsCycle(node int, graph map[int][]int, visited map[int]bool, stack []int, onStack map[int]bool) []int {
	visited[node] = true
	onStack[node] = true
	stack = append(stack, node)

	for _, neighbor := range graph[node] {
		if !visited[neighbor] {
			if cycle := dfsCycle(neighbor, graph, visited, stack, onStack); cycle != nil {
				return cycle
			}
		} else if onStack[neighbor] {
			cycle := make([]int, len(stack))
			copy(cycle, stack)
			return cycle
		}
	}

	onStack[node] = false
	return nil
}

// DetectDeadlock runs check_timeouts, then one DFS pass over the
// wait-for graph; on a cycle it resolves the victim per §4.3.1 and
// reports whether a deadlock was found and processed this call.
func (m *Manager) DetectDeadlock(active map[int]TxnState, recovery Rollbacker, cycle int) bool {
	m.CheckTimeouts(active, recovery, cycle)

	candidates, found := m.detectCycle()
	if !found {
		return false
	}
	m.resolveDeadlock(candidates, active, recovery, cycle)
	return true
}

// resolveDeadlock picks the victim with the fewest completed operations
// (ties broken by smallest transaction id, spec.md §4.3 victim
// selection) and either rolls it back immediately or defers to the
// timeout path.
func (m *Manager) resolveDeadlock(candidates []int, active map[int]TxnState, recovery Rollbacker, cycle int) {
	victim, ok := pickVictim(candidates, active)
	if !ok {
		return
	}

	if m.rng.Float64() < m.rollbackProb {
		m.rollbackVictim(recovery, victim, active)
		return
	}
	if _, already := m.blockedSince[victim]; !already {
		m.blockedSince[victim] = cycle
	}
}

func pickVictim(candidates []int, active map[int]TxnState) (int, bool) {
	best := 0
	bestOps := 0
	found := false
	for _, trid := range candidates {
		state, ok := active[trid]
		if !ok {
			continue
		}
		if !found || state.OpsDone < bestOps || (state.OpsDone == bestOps && trid < best) {
			best, bestOps, found = trid, state.OpsDone, true
		}
	}
	return best, found
}

// rollbackVictim implements spec.md §4.3.1: reverse the victim's logged
// updates, release every lock it holds, and drop it from waiting,
// blocked_since, and active_transactions.
func (m *Manager) rollbackVictim(recovery Rollbacker, victim int, active map[int]TxnState) {
	_ = recovery.Rollback(victim)
	m.ReleaseAll(victim)
	delete(m.waiting, victim)
	delete(m.blockedSince, victim)
	delete(active, victim)
}

// CheckTimeouts rolls back any transaction that has been blocked for
// more than timeout cycles (spec.md §4.3 "Timeouts").
func (m *Manager) CheckTimeouts(active map[int]TxnState, recovery Rollbacker, cycle int) {
	expired := make([]int, 0)
	for trid, since := range m.blockedSince {
		if cycle-since > m.timeout {
			expired = append(expired, trid)
		}
	}
	sort.Ints(expired)
	for _, trid := range expired {
		m.rollbackVictim(recovery, trid, active)
		delete(m.blockedSince, trid)
	}
}

// Waiting reports the current waiting set, for tests and diagnostics.
func (m *Manager) Waiting() map[int]WaitRequest {
	return m.waiting
}

// BlockedSince reports the current blocked-since map, for tests.
func (m *Manager) BlockedSince() map[int]int {
	return m.blockedSince
}

// HoldersOf returns the holder sequence for did, or nil if nothing has
// ever touched it.
func (m *Manager) HoldersOf(did int) []locklist.Holder {
	l, ok := m.table[did]
	if !ok {
		return nil
	}
	return l.Holders()
}

// LocksOf returns the set of data items trid currently holds, for tests.
func (m *Manager) LocksOf(trid int) map[int]bool {
	return m.txnLocks[trid]
}
