package swim

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	self  MemberID = 1
	peerB MemberID = 2
	peerC MemberID = 3
)

func TestUpdatesParse_IgnoresUnknownReporter(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive})

	err := c.UpdatesParse(context.Background(), peerB, peerC, []Update{{ID: peerC, Status: StatusAlive}})
	if !errors.Is(err, ErrNonExist) {
		t.Fatalf("UpdatesParse from unknown reporter = %v, want ErrNonExist", err)
	}
}

func TestUpdatesParse_DropsDeadReporter(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive})
	ops.setMember(peerB, MemberState{Status: StatusDead})

	if err := c.UpdatesParse(context.Background(), peerB, peerC, []Update{{ID: peerC, Status: StatusAlive}}); !errors.Is(err, ErrNonExist) {
		t.Fatalf("UpdatesParse from DEAD reporter = %v, want ErrNonExist", err)
	}
}

// Bootstrap suppression (S5): an ALIVE claim about an INACTIVE member
// force-accepts and is queued at the transmission limit.
func TestMemberAlive_BootstrapSuppressed(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive})
	ops.setMember(peerB, MemberState{Status: StatusInactive})

	if err := c.UpdatesParse(context.Background(), peerB, peerB, []Update{{ID: peerB, Status: StatusAlive, Incarnation: 1}}); err != nil {
		t.Fatalf("UpdatesParse: %v", err)
	}

	st := ops.member(peerB)
	if st.Status != StatusAlive {
		t.Fatalf("peerB status = %v, want ALIVE", st.Status)
	}

	c.mu.Lock()
	var entry *queueEntry
	for _, e := range c.updates {
		if e.id == peerB {
			entry = e
		}
	}
	c.mu.Unlock()
	if entry == nil {
		t.Fatal("expected peerB queued after bootstrap")
	}
	if entry.txCount != c.piggybackTxMax {
		t.Fatalf("bootstrap entry txCount = %d, want %d (suppressed)", entry.txCount, c.piggybackTxMax)
	}
}

// L2: status dominance / incarnation precedence for ALIVE claims.
func TestMemberAlive_IgnoresStaleIncarnation(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive})
	ops.setMember(peerB, MemberState{Status: StatusAlive, Incarnation: 5})

	if err := c.UpdatesParse(context.Background(), self, peerB, []Update{{ID: peerB, Status: StatusAlive, Incarnation: 3}}); err != nil {
		t.Fatalf("UpdatesParse: %v", err)
	}
	if st := ops.member(peerB); st.Incarnation != 5 {
		t.Fatalf("incarnation regressed to %d, want 5 preserved", st.Incarnation)
	}
}

func TestMemberSuspect_AddsToSuspectList(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive})
	ops.setMember(peerB, MemberState{Status: StatusAlive, Incarnation: 1})

	if err := c.UpdatesParse(context.Background(), self, peerB, []Update{{ID: peerB, Status: StatusSuspect, Incarnation: 1}}); err != nil {
		t.Fatalf("UpdatesParse: %v", err)
	}

	if st := ops.member(peerB); st.Status != StatusSuspect {
		t.Fatalf("peerB status = %v, want SUSPECT", st.Status)
	}

	// I1: every suspect-list entry's member is locally SUSPECT.
	c.mu.Lock()
	found := false
	for _, e := range c.suspects {
		if e.id == peerB {
			found = true
		}
	}
	c.mu.Unlock()
	if !found {
		t.Fatal("peerB missing from suspect list")
	}
}

func TestMemberSuspect_ZeroTimeoutFoldsIntoDead(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	c.suspectTimeout = 0
	ops.setMember(self, MemberState{Status: StatusAlive})
	ops.setMember(peerB, MemberState{Status: StatusAlive, Incarnation: 1})

	if err := c.memberSuspectLocked(context.Background(), self, peerB, 1); err != nil {
		t.Fatalf("memberSuspectLocked: %v", err)
	}
	if st := ops.member(peerB); st.Status != StatusDead {
		t.Fatalf("status = %v, want DEAD when SuspectTimeout == 0", st.Status)
	}
}

// S3: false-accusation recovery / L3 self-defense.
func TestUpdatesParse_SelfDefenseRefutes(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive, Incarnation: 7})
	ops.setMember(peerC, MemberState{Status: StatusAlive})

	if err := c.UpdatesParse(context.Background(), peerC, self, []Update{{ID: self, Status: StatusDead, Incarnation: 7}}); err != nil {
		t.Fatalf("UpdatesParse: %v", err)
	}

	st := ops.member(self)
	if st.Status != StatusAlive {
		t.Fatalf("self status mutated to %v, want ALIVE preserved by refutation", st.Status)
	}
	if st.Incarnation <= 7 {
		t.Fatalf("incarnation = %d, want strictly greater than 7 after refutation", st.Incarnation)
	}
}

func TestUpdatesParse_SelfDefenseIgnoresStaleClaim(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive, Incarnation: 9})
	ops.setMember(peerC, MemberState{Status: StatusAlive})

	if err := c.UpdatesParse(context.Background(), peerC, self, []Update{{ID: self, Status: StatusSuspect, Incarnation: 5}}); err != nil {
		t.Fatalf("UpdatesParse: %v", err)
	}
	if st := ops.member(self); st.Incarnation != 9 {
		t.Fatalf("incarnation = %d, want unchanged at 9 for a stale claim", st.Incarnation)
	}
}

func TestMemberDead_RemovesFromSuspectList(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive})
	ops.setMember(peerB, MemberState{Status: StatusSuspect, Incarnation: 1})
	c.suspects = append(c.suspects, &suspectEntry{id: peerB, from: self, deadline: clock.now().Add(time.Second)})

	if err := c.UpdatesParse(context.Background(), self, peerB, []Update{{ID: peerB, Status: StatusDead, Incarnation: 2}}); err != nil {
		t.Fatalf("UpdatesParse: %v", err)
	}

	if st := ops.member(peerB); st.Status != StatusDead {
		t.Fatalf("status = %v, want DEAD", st.Status)
	}
	for _, e := range c.suspects {
		if e.id == peerB {
			t.Fatal("peerB still in suspect list after being marked DEAD (violates I6)")
		}
	}
}

func TestMemberDead_InactiveStickyWithoutGlitch(t *testing.T) {
	ops := newFakeOps()
	clock := newManualClock(time.Unix(0, 0))
	c := newTestContext(self, ops, clock)
	ops.setMember(self, MemberState{Status: StatusAlive})
	ops.setMember(peerB, MemberState{Status: StatusInactive})

	if err := c.memberDeadLocked(context.Background(), self, peerB, 1); err != nil {
		t.Fatalf("memberDeadLocked: %v", err)
	}
	if st := ops.member(peerB); st.Status != StatusInactive {
		t.Fatalf("status = %v, want INACTIVE to stick without the glitch bit", st.Status)
	}

	c.glitch = true
	if err := c.memberDeadLocked(context.Background(), self, peerB, 1); err != nil {
		t.Fatalf("memberDeadLocked: %v", err)
	}
	if st := ops.member(peerB); st.Status != StatusDead {
		t.Fatalf("status = %v, want DEAD once the glitch bit accommodates it", st.Status)
	}
}

// L6: UpdatesShort is pure given a deterministic mint and no self-suspicion.
func TestUpdatesShort_PurityAndContent(t *testing.T) {
	mint := func(context.Context) (Incarnation, error) { return 99, nil }
	in := []Update{{ID: peerB, Status: StatusAlive, Incarnation: 4}}

	out1, err := UpdatesShort(context.Background(), self, 2, peerB, in, mint)
	if err != nil {
		t.Fatalf("UpdatesShort: %v", err)
	}
	out2, err := UpdatesShort(context.Background(), self, 2, peerB, in, mint)
	if err != nil {
		t.Fatalf("UpdatesShort: %v", err)
	}

	if len(out1) != len(out2) {
		t.Fatalf("len mismatch across calls: %d vs %d", len(out1), len(out2))
	}
	for i := range out1 {
		if out1[i] != out2[i] {
			t.Fatalf("entry %d differs across calls: %+v vs %+v", i, out1[i], out2[i])
		}
	}

	if len(out1) != 2 || out1[0].ID != self || out1[0].Status != StatusAlive {
		t.Fatalf("unexpected self slot: %+v", out1)
	}
	if out1[1].ID != peerB || out1[1].Incarnation != 4 {
		t.Fatalf("unexpected id slot: %+v", out1[1])
	}
}

func TestUpdatesShort_RefutesSelfSuspicion(t *testing.T) {
	calls := 0
	mint := func(context.Context) (Incarnation, error) {
		calls++
		return 100 + Incarnation(calls), nil
	}
	in := []Update{{ID: self, Status: StatusSuspect, Incarnation: 3}}

	out, err := UpdatesShort(context.Background(), self, 3, peerB, in, mint)
	if err != nil {
		t.Fatalf("UpdatesShort: %v", err)
	}
	if calls != 1 {
		t.Fatalf("mint called %d times, want 1", calls)
	}
	if out[0].Incarnation != 101 {
		t.Fatalf("self incarnation = %d, want minted 101", out[0].Incarnation)
	}
}
