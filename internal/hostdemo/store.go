package hostdemo

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/orbitmesh/swim"
)

// Persister is the subset of internal/store.DB the member store uses to
// survive a restart. It is optional: a NewStore with a nil Persister runs
// purely in memory.
type Persister interface {
	NextIncarnation(ctx context.Context, self swim.MemberID) (swim.Incarnation, error)
	SaveSnapshot(ctx context.Context, id swim.MemberID, state swim.MemberState) error
	LoadSnapshots(ctx context.Context) (map[swim.MemberID]swim.MemberState, error)
}

// Store is an in-memory membership table implementing swim.Ops,
// swim.ReplyOps and swim.IncarnationOps. It owns no transport; Transport
// calls back into it only to resolve state.
type Store struct {
	mu   sync.Mutex
	self swim.MemberID

	members map[swim.MemberID]swim.MemberState
	addrs   map[swim.MemberID]*net.UDPAddr
	order   []swim.MemberID // stable iteration order for random selection
	cursor  int             // round-robin pointer for GetDpingTarget

	persist Persister
	rnd     *rand.Rand

	transport *Transport // set by Attach; used for SendRequest/SendReply
}

// NewStore creates an empty member store for self. If persist is non-nil, it
// is used to warm-start the table from the last snapshot and to mint fresh
// incarnations durably across restarts.
func NewStore(self swim.MemberID, persist Persister) (*Store, error) {
	s := &Store{
		self:    self,
		members: make(map[swim.MemberID]swim.MemberState),
		addrs:   make(map[swim.MemberID]*net.UDPAddr),
		persist: persist,
		rnd:     rand.New(rand.NewSource(int64(self))),
	}
	s.members[self] = swim.MemberState{Status: swim.StatusAlive}
	s.order = append(s.order, self)

	if persist != nil {
		snaps, err := persist.LoadSnapshots(context.Background())
		if err != nil {
			return nil, fmt.Errorf("hostdemo: warm start: %w", err)
		}
		for id, st := range snaps {
			if id == self {
				continue
			}
			s.members[id] = st
			s.order = append(s.order, id)
		}
	}
	return s, nil
}

// AddPeer registers a peer's address and bootstrap (INACTIVE) state, the way
// a host learns of a seed or newly joined member before the engine has
// probed it even once.
func (s *Store) AddPeer(id swim.MemberID, addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.members[id]; !exists {
		s.members[id] = swim.MemberState{Status: swim.StatusInactive}
		s.order = append(s.order, id)
	}
	s.addrs[id] = addr
}

// Addr returns the UDP address last recorded for id, or nil if unknown.
func (s *Store) Addr(id swim.MemberID) *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs[id]
}

// Snapshot returns a copy of every known member's current state, for the
// membership HTTP API and for periodic persistence.
func (s *Store) Snapshot() map[swim.MemberID]swim.MemberState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[swim.MemberID]swim.MemberState, len(s.members))
	for id, st := range s.members {
		out[id] = st
	}
	return out
}

// --- swim.Ops ---

func (s *Store) SendRequest(ctx context.Context, from, to swim.MemberID, upds []swim.Update) error {
	if s.transport == nil {
		return fmt.Errorf("hostdemo: no transport attached")
	}
	return s.transport.sendRequest(ctx, to, upds)
}

func (s *Store) GetDpingTarget(ctx context.Context) swim.MemberID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked(func(id swim.MemberID) bool {
		return id != s.self && s.members[id].Status != swim.StatusDead
	})
}

func (s *Store) GetIpingTarget(ctx context.Context) swim.MemberID {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	if n == 0 {
		return swim.InvalidMember
	}
	start := s.rnd.Intn(n)
	for i := 0; i < n; i++ {
		id := s.order[(start+i)%n]
		if id != s.self && s.members[id].Status == swim.StatusAlive {
			return id
		}
	}
	return swim.InvalidMember
}

// nextLocked does one round-robin sweep of s.order starting at s.cursor,
// returning the first entry satisfying ok, or InvalidMember if none
// qualify. Callers must hold s.mu.
func (s *Store) nextLocked(ok func(swim.MemberID) bool) swim.MemberID {
	n := len(s.order)
	if n == 0 {
		return swim.InvalidMember
	}
	start := s.cursor
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		id := s.order[idx]
		if ok(id) {
			s.cursor = (idx + 1) % n
			return id
		}
	}
	return swim.InvalidMember
}

func (s *Store) GetMemberState(ctx context.Context, id swim.MemberID) (swim.MemberState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.members[id]
	if !ok {
		return swim.MemberState{}, swim.ErrNonExist
	}
	return st, nil
}

func (s *Store) SetMemberState(ctx context.Context, id swim.MemberID, state swim.MemberState) error {
	s.mu.Lock()
	if _, ok := s.members[id]; !ok {
		s.mu.Unlock()
		return swim.ErrNonExist
	}
	s.members[id] = state
	s.mu.Unlock()

	if s.persist != nil {
		return s.persist.SaveSnapshot(ctx, id, state)
	}
	return nil
}

// --- swim.ReplyOps ---

func (s *Store) SendReply(ctx context.Context, from, to swim.MemberID, rc error, args []byte) error {
	if s.transport == nil {
		return fmt.Errorf("hostdemo: no transport attached")
	}
	return s.transport.sendReply(ctx, to, rc, args)
}

// --- swim.IncarnationOps ---

func (s *Store) NewIncarnation(ctx context.Context, self swim.MemberID) (swim.Incarnation, error) {
	if s.persist != nil {
		return s.persist.NextIncarnation(ctx, self)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.members[self]
	st.Incarnation++
	return st.Incarnation, nil
}

var (
	_ swim.Ops            = (*Store)(nil)
	_ swim.ReplyOps       = (*Store)(nil)
	_ swim.IncarnationOps = (*Store)(nil)
)
