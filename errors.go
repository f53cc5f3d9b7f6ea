package swim

import "errors"

// Sentinel errors returned by the engine. Callers should compare with
// errors.Is rather than equality, since callback implementations are free to
// wrap these with additional context.
var (
	// ErrInval marks a malformed call: a nil Ops table, or a required
	// optional callback that was never supplied. Calls made while self is
	// InvalidMember return nil instead.
	ErrInval = errors.New("swim: invalid argument")

	// ErrNonExist means a member referenced by a callback or an inbound
	// update batch is not in the host's member store.
	ErrNonExist = errors.New("swim: member not found")

	// ErrAlready marks a redundant operation: IpingsSuspend returns it when
	// an IPING is already staged for the same target. An ALIVE claim no
	// newer than what's local is ignored without an error.
	ErrAlready = errors.New("swim: already exists")

	// ErrTimedOut is returned by Progress when its deadline elapsed
	// normally. It is not logged as an error by callers following this
	// engine's conventions.
	ErrTimedOut = errors.New("swim: progress deadline reached")

	// ErrCanceled is returned by Progress when it exits early because the
	// next interesting event is far enough away that the host should
	// sleep instead of spinning.
	ErrCanceled = errors.New("swim: progress has nothing to do")
)
