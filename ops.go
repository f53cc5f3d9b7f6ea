package swim

import "context"

// Ops is the set of callbacks a host must implement so the engine can read
// and mutate membership state and hand off outbound traffic to a transport.
// Every method except SendRequest is invoked while the engine holds its
// internal lock; SendRequest is called after the lock is released. Hosts
// must not call back into the engine from inside a locked Ops method.
type Ops interface {
	// SendRequest transmits upds from "from" to "to". Ownership of upds
	// passes to the implementation. Slot zero of upds identifies which
	// member is being probed: if it equals "to" this is a direct probe,
	// otherwise "to" is being asked to probe that member on the caller's
	// behalf (an indirect ping request).
	SendRequest(ctx context.Context, from, to MemberID, upds []Update) error

	// GetDpingTarget returns the next member to probe directly, or
	// InvalidMember if the host has no candidate (e.g. the group has no
	// other known members yet).
	GetDpingTarget(ctx context.Context) MemberID

	// GetIpingTarget returns the next ALIVE member to use as an indirect
	// probe forwarder, or InvalidMember once the host has no more
	// candidates for the current subgroup.
	GetIpingTarget(ctx context.Context) MemberID

	// GetMemberState returns the current state of id, or an error
	// wrapping ErrNonExist if id is unknown to the host.
	GetMemberState(ctx context.Context, id MemberID) (MemberState, error)

	// SetMemberState records a new state for id.
	SetMemberState(ctx context.Context, id MemberID, state MemberState) error
}

// ReplyOps is implemented by hosts that want to participate in indirect
// probing as a forwarder. Without it, IpingsSuspend/IpingsReply still track
// state but never produce a reply.
type ReplyOps interface {
	// SendReply answers an indirect-ping request: rc is nil on success or
	// an error (typically ErrTimedOut) on failure, args is the opaque
	// cookie supplied to IpingsSuspend.
	SendReply(ctx context.Context, from, to MemberID, rc error, args []byte) error
}

// IncarnationOps is implemented by hosts whose members can be legitimately
// challenged with a SUSPECT or DEAD claim about themselves. It mints a fresh
// incarnation number so the engine can refute the claim.
type IncarnationOps interface {
	NewIncarnation(ctx context.Context, self MemberID) (Incarnation, error)
}
