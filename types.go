package swim

import "time"

// MemberID identifies a member of the group. The zero value, InvalidMember,
// is a sentinel meaning "no member" and is never a valid member identity.
type MemberID uint64

// InvalidMember is the sentinel identity used for "no target" and "not
// initialized" across the engine's API.
const InvalidMember MemberID = 0

// Incarnation is the conflict-resolution counter a member bumps to refute a
// false SUSPECT or DEAD claim made about it.
type Incarnation uint64

// Status is a member's liveness state as tracked by the engine.
type Status int

const (
	// StatusAlive means the member is believed reachable.
	StatusAlive Status = iota
	// StatusSuspect means the member has missed a probe and is on
	// probation; it will be marked StatusDead if not refuted in time.
	StatusSuspect
	// StatusDead means the member has exhausted its suspicion window, or
	// was reported dead by another member at an incarnation we accept.
	StatusDead
	// StatusInactive means the member is known to the host but has not
	// yet completed bootstrap; it is never widely gossiped.
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "ALIVE"
	case StatusSuspect:
		return "SUSPECT"
	case StatusDead:
		return "DEAD"
	case StatusInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// MemberState is the host's view of one member, as read and written through
// the Ops callbacks. Delay is the host's rolling RTT estimate for the member
// and feeds the adaptive probe-timeout calculation.
type MemberState struct {
	Status      Status
	Incarnation Incarnation
	Delay       time.Duration
}

// Update is one {member, status, incarnation} fact carried on the wire,
// piggybacked on probe traffic for dissemination. The core treats the wire
// format as opaque beyond this tuple; framing is the transport's job.
type Update struct {
	ID          MemberID
	Status      Status
	Incarnation Incarnation
	Delay       time.Duration
}

// queueEntry is an in-flight piggyback candidate: a fact about ID that the
// engine learned from From, pending dissemination. txCount counts how many
// outbound messages have already carried it.
type queueEntry struct {
	id      MemberID
	from    MemberID
	txCount int
}

// suspectEntry tracks one member currently on probation.
type suspectEntry struct {
	id       MemberID
	from     MemberID
	deadline time.Time
}

// ipingEntry is a staged indirect-ping request awaiting a reply to forward
// back to its requester.
type ipingEntry struct {
	id       MemberID
	from     MemberID
	args     []byte
	deadline time.Time
}

// subgroupEntry is one indirect-probe assignment: ping id (the forwarder) to
// ask it to probe target on our behalf.
type subgroupEntry struct {
	target MemberID
	id     MemberID
}

// tickState is the probe-cycle state machine's current phase.
type tickState int

const (
	stateBegin tickState = iota
	statePinged
	stateTimedOut
	stateIPinged
	stateSelect
)

func (s tickState) String() string {
	switch s {
	case stateBegin:
		return "BEGIN"
	case statePinged:
		return "PINGED"
	case stateTimedOut:
		return "TIMEDOUT"
	case stateIPinged:
		return "IPINGED"
	case stateSelect:
		return "SELECT"
	default:
		return "UNKNOWN"
	}
}
