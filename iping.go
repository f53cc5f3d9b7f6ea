package swim

import (
	"context"
	"time"
)

// IpingsSuspend stages an incoming indirect-ping request: the peer "from" has
// asked us to probe "to" on its behalf. args is an opaque cookie the
// transport supplied, echoed back unchanged in the eventual reply so the
// caller can correlate it. If a request for the same target is already
// staged, this returns ErrAlready and the existing entry is left untouched.
func (c *Context) IpingsSuspend(goctx context.Context, from, to MemberID, args []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.self == InvalidMember {
		return nil
	}

	for _, e := range c.ipings {
		if e.id == to {
			return ErrAlready
		}
	}

	deadline := c.clock().Add(c.pingTimeout)
	c.ipings = append(c.ipings, &ipingEntry{id: to, from: from, args: args, deadline: deadline})
	c.advanceNextEventLocked(deadline)
	return nil
}

// IpingsReply drains every staged indirect-ping request whose target is to
// and answers each one with rc, forwarding the result back to whichever peer
// originally asked us to probe on its behalf. This is how a forwarder
// reports the outcome of the probe it ran on the requester's behalf.
func (c *Context) IpingsReply(goctx context.Context, to MemberID, rc error) {
	c.mu.Lock()
	var drained []*ipingEntry
	kept := c.ipings[:0]
	for _, e := range c.ipings {
		if e.id == to {
			drained = append(drained, e)
		} else {
			kept = append(kept, e)
		}
	}
	c.ipings = kept
	c.mu.Unlock()

	for _, e := range drained {
		c.sendReply(goctx, e, rc)
	}
}

// sendReply answers one staged indirect-ping request via the host's
// ReplyOps, if it supplied one. Hosts that never forward probes (ReplyOps
// not implemented) simply never see a reply sent, matching the optional
// nature of SendReply in the Ops contract.
func (c *Context) sendReply(goctx context.Context, e *ipingEntry, rc error) {
	replyer, ok := c.ops.(ReplyOps)
	if !ok {
		return
	}
	if goctx == nil {
		goctx = context.Background()
	}

	c.mu.Lock()
	self := c.self
	c.mu.Unlock()

	if err := replyer.SendReply(goctx, self, e.from, rc, e.args); err != nil {
		c.logf("send_reply to %d about %d failed: %v", e.from, e.id, err)
	}
}

// NetGlitchUpdate tells the engine that the host was starved for delay
// before it could re-enter a path involving id: every suspect and IPING
// deadline whose member is id, and the current probe deadline if id is the
// target, is pushed back by delay (every one of them, if id is self), so the
// engine does not mistake host scheduling jitter for peer failure.
// Repeated calls accumulate with no clamp.
func (c *Context) NetGlitchUpdate(id MemberID, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.suspects {
		if id == c.self || id == e.id {
			e.deadline = e.deadline.Add(delay)
		}
	}
	for _, e := range c.ipings {
		if id == c.self || id == e.id {
			e.deadline = e.deadline.Add(delay)
		}
	}
	if (c.state == statePinged || c.state == stateIPinged) && (id == c.self || id == c.target) {
		c.deadline = c.deadline.Add(delay)
	}
}
