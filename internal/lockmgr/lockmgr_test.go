package lockmgr

import (
	"cycledb/internal/locklist"
	"testing"
)

// fixedRand is a deterministic RandSource for tests that need to force
// (or forbid) the immediate-rollback branch of resolveDeadlock.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

type fakeRecovery struct {
	rolledBack []int
}

func (f *fakeRecovery) Rollback(trid int) error {
	f.rolledBack = append(f.rolledBack, trid)
	return nil
}

func TestAcquireGrantsFirstRequest(t *testing.T) {
	m := New(0, 0, fixedRand(1))
	if !m.Acquire(1, 5, locklist.Shared) {
		t.Fatal("first S acquire on an unlocked item should be granted")
	}
	locks := m.LocksOf(1)
	if !locks[5] {
		t.Fatal("transaction_locks[1] should contain 5")
	}
}

func TestAcquireSameTransactionRepeat(t *testing.T) {
	m := New(0, 0, fixedRand(1))
	m.Acquire(1, 5, locklist.Shared)
	if !m.Acquire(1, 5, locklist.Shared) {
		t.Fatal("re-acquiring the same mode should be granted")
	}
}

// Seed scenario 3: upgrade with no other holders.
func TestUpgradeSoleHolderSucceeds(t *testing.T) {
	m := New(0, 0, fixedRand(1))
	if !m.Acquire(1, 3, locklist.Shared) {
		t.Fatal("S acquire should be granted")
	}
	if !m.Acquire(1, 3, locklist.Exclusive) {
		t.Fatal("X upgrade by sole S holder should be granted")
	}
	holders := m.HoldersOf(3)
	if len(holders) != 1 || holders[0].TxnID != 1 || holders[0].Mode != locklist.Exclusive {
		t.Fatalf("holders of did=3 = %+v, want single (1,X)", holders)
	}
}

// DESIGN.md decision 1: upgrade while other S holders exist must wait,
// not silently create a second X holder alongside existing S holders.
func TestUpgradeWithOtherHoldersWaits(t *testing.T) {
	m := New(0, 0, fixedRand(1))
	if !m.Acquire(1, 3, locklist.Shared) {
		t.Fatal("T1 S acquire should be granted")
	}
	if !m.Acquire(2, 3, locklist.Shared) {
		t.Fatal("T2 S acquire should be granted")
	}
	if m.Acquire(1, 3, locklist.Exclusive) {
		t.Fatal("T1 upgrade to X should wait while T2 holds S")
	}
	req, waiting := m.Waiting()[1]
	if !waiting || req.DID != 3 || req.Mode != locklist.Exclusive {
		t.Fatalf("waiting[1] = %+v, waiting=%v; want (3,X), true", req, waiting)
	}
	for _, h := range m.HoldersOf(3) {
		if h.Mode == locklist.Exclusive {
			t.Fatal("no X holder should exist while S holders remain (uniqueness invariant)")
		}
	}
}

func TestIncompatibleRequestRecordsWaitingWithoutPartialState(t *testing.T) {
	m := New(0, 0, fixedRand(1))
	m.Acquire(1, 0, locklist.Exclusive)
	if m.Acquire(2, 0, locklist.Shared) {
		t.Fatal("S request against an X holder should not be granted")
	}
	if m.LocksOf(2) != nil {
		t.Fatal("a denied acquire must not add to transaction_locks")
	}
	req, ok := m.Waiting()[2]
	if !ok || req.DID != 0 {
		t.Fatalf("waiting[2] = %+v, ok=%v; want did=0", req, ok)
	}
}

func TestReleaseAndReleaseAll(t *testing.T) {
	m := New(0, 0, fixedRand(1))
	m.Acquire(1, 0, locklist.Shared)
	m.Acquire(1, 1, locklist.Shared)

	if !m.Release(1, 0) {
		t.Fatal("Release(1,0) should report true")
	}
	if m.Release(1, 0) {
		t.Fatal("Release(1,0) second time should report false")
	}

	m.ReleaseAll(1)
	if m.LocksOf(1) != nil {
		t.Fatal("no lock leak: transaction_locks should have no entry for 1 after ReleaseAll")
	}
	for _, did := range []int{0, 1} {
		for _, h := range m.HoldersOf(did) {
			if h.TxnID == 1 {
				t.Fatalf("no lock leak: did=%d still lists holder 1", did)
			}
		}
	}
}

// Seed scenario 4: T1 X-locks did=0, T2 X-locks did=1, then each
// requests the other's item and waits, forming a 2-cycle. The detector
// must choose the transaction with fewer completed operations.
func TestDeadlockDetectionAndVictimSelection(t *testing.T) {
	m := New(1, 0, fixedRand(0)) // rollbackProb=1: always roll back immediately
	m.Acquire(1, 0, locklist.Exclusive)
	m.Acquire(2, 1, locklist.Exclusive)
	if m.Acquire(1, 1, locklist.Exclusive) {
		t.Fatal("T1 should wait for T2's lock on did=1")
	}
	if m.Acquire(2, 0, locklist.Exclusive) {
		t.Fatal("T2 should wait for T1's lock on did=0")
	}

	active := map[int]TxnState{
		1: {OpsDone: 2},
		2: {OpsDone: 1}, // fewer ops done: T2 should be the victim
	}
	rec := &fakeRecovery{}
	resolved := m.DetectDeadlock(active, rec, 10)
	if !resolved {
		t.Fatal("DetectDeadlock should report a resolved deadlock")
	}
	if len(rec.rolledBack) != 1 || rec.rolledBack[0] != 2 {
		t.Fatalf("rolled back = %v, want [2]", rec.rolledBack)
	}
	if _, stillActive := active[2]; stillActive {
		t.Fatal("victim must be removed from active_transactions")
	}
	if _, stillWaiting := m.Waiting()[2]; stillWaiting {
		t.Fatal("victim must be removed from waiting")
	}
}

func TestVictimTieBreakSmallestTrid(t *testing.T) {
	candidates := []int{5, 2, 9}
	active := map[int]TxnState{5: {OpsDone: 3}, 2: {OpsDone: 3}, 9: {OpsDone: 3}}
	victim, ok := pickVictim(candidates, active)
	if !ok || victim != 2 {
		t.Fatalf("pickVictim = %d, ok=%v; want 2 (smallest trid on tie)", victim, ok)
	}
}

func TestVictimMustBeActive(t *testing.T) {
	active := map[int]TxnState{5: {OpsDone: 1}}
	_, ok := pickVictim([]int{7}, active)
	if ok {
		t.Fatal("pickVictim should report false when no candidate is active")
	}
}

// Seed scenario 6: rollback_prob=0, timeout=3; deadlock at cycle 10
// defers the victim, and check_timeouts rolls it back once the age
// exceeds timeout.
func TestTimeoutPath(t *testing.T) {
	m := New(0, 3, fixedRand(1)) // rollbackProb=0: never roll back immediately
	m.Acquire(1, 0, locklist.Exclusive)
	m.Acquire(2, 1, locklist.Exclusive)
	m.Acquire(1, 1, locklist.Exclusive)
	m.Acquire(2, 0, locklist.Exclusive)

	active := map[int]TxnState{1: {OpsDone: 2}, 2: {OpsDone: 1}}
	rec := &fakeRecovery{}

	if !m.DetectDeadlock(active, rec, 10) {
		t.Fatal("expected deadlock to be detected at cycle 10")
	}
	if since, ok := m.BlockedSince()[2]; !ok || since != 10 {
		t.Fatalf("blocked_since[2] = %d, ok=%v; want 10, true", since, ok)
	}
	if len(rec.rolledBack) != 0 {
		t.Fatal("rollback_prob=0 must defer to the timeout path, not roll back immediately")
	}

	// cycle 13: age is exactly timeout, must not yet roll back.
	m.CheckTimeouts(active, rec, 13)
	if len(rec.rolledBack) != 0 {
		t.Fatal("age == timeout should not trigger rollback yet")
	}

	// cycle 14: age exceeds timeout, rollback fires.
	m.CheckTimeouts(active, rec, 14)
	if len(rec.rolledBack) != 1 || rec.rolledBack[0] != 2 {
		t.Fatalf("rolled back = %v, want [2] at cycle 14", rec.rolledBack)
	}
	if _, still := m.BlockedSince()[2]; still {
		t.Fatal("blocked_since entry should be cleared after rollback")
	}
}

func TestClose(t *testing.T) {
	m := New(0, 0, fixedRand(1))
	m.Acquire(1, 0, locklist.Shared)
	m.Close()
	if len(m.HoldersOf(0)) != 0 {
		t.Fatal("Close should clear the lock table")
	}
	if len(m.Waiting()) != 0 {
		t.Fatal("Close should clear the waiting set")
	}
}
