package swim

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeOps is a minimal in-memory Ops/ReplyOps/IncarnationOps implementation
// used across the package's tests. It never touches the network; SendRequest
// and SendReply just record what they were asked to deliver so tests can
// assert on outbound traffic directly.
type fakeOps struct {
	mu sync.Mutex

	members      map[MemberID]MemberState
	incarnations map[MemberID]Incarnation

	dping []MemberID // consumed front-to-back by GetDpingTarget
	iping []MemberID // consumed front-to-back by GetIpingTarget

	sent    []sentRequest
	replies []sentReply

	sendErr error // if set, SendRequest returns this every time
}

type sentRequest struct {
	from, to MemberID
	upds     []Update
}

type sentReply struct {
	from, to MemberID
	rc       error
	args     []byte
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		members:      make(map[MemberID]MemberState),
		incarnations: make(map[MemberID]Incarnation),
	}
}

func (f *fakeOps) setMember(id MemberID, st MemberState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = st
}

func (f *fakeOps) member(id MemberID) MemberState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[id]
}

func (f *fakeOps) SendRequest(ctx context.Context, from, to MemberID, upds []Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentRequest{from: from, to: to, upds: upds})
	return nil
}

func (f *fakeOps) SendReply(ctx context.Context, from, to MemberID, rc error, args []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{from: from, to: to, rc: rc, args: args})
	return nil
}

func (f *fakeOps) GetDpingTarget(ctx context.Context) MemberID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dping) == 0 {
		return InvalidMember
	}
	id := f.dping[0]
	f.dping = f.dping[1:]
	return id
}

func (f *fakeOps) GetIpingTarget(ctx context.Context) MemberID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.iping) == 0 {
		return InvalidMember
	}
	id := f.iping[0]
	f.iping = f.iping[1:]
	return id
}

func (f *fakeOps) GetMemberState(ctx context.Context, id MemberID) (MemberState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.members[id]
	if !ok {
		return MemberState{}, fmt.Errorf("member %d: %w", id, ErrNonExist)
	}
	return st, nil
}

func (f *fakeOps) SetMemberState(ctx context.Context, id MemberID, st MemberState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = st
	return nil
}

// NewIncarnation mints a value strictly greater than both the member's
// current recorded incarnation and any value previously minted for it,
// mirroring a real host that persists and monotonically bumps the counter.
func (f *fakeOps) NewIncarnation(ctx context.Context, self MemberID) (Incarnation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.members[self].Incarnation + 1
	if prev, ok := f.incarnations[self]; ok && prev >= next {
		next = prev + 1
	}
	f.incarnations[self] = next
	return next, nil
}

// manualClock lets tests step time deterministically instead of racing the
// wall clock. autoAdvance, when set, nudges the clock forward by a small
// amount on every read, standing in for the wall-clock progress that a real
// deployment gets for free between loop iterations of Progress.
type manualClock struct {
	mu          sync.Mutex
	t           time.Time
	autoAdvance time.Duration
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{t: start}
}

func (m *manualClock) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(m.autoAdvance)
	return m.t
}

func (m *manualClock) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}

func newTestContext(self MemberID, ops Ops, clock *manualClock) *Context {
	c, err := New(Config{
		Self:           self,
		Ops:            ops,
		Period:         time.Second,
		PingTimeout:    100 * time.Millisecond,
		SuspectTimeout: time.Second,
		SubgroupSize:   2,
		PiggybackTxMax: 3,
		Clock:          clock.now,
	})
	if err != nil {
		panic(err)
	}
	return c
}
