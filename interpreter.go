package swim

import (
	"context"
	"errors"
	"fmt"
)

// UpdatesParse applies an inbound update batch received from fromID. id is
// the member the sender declared the message to be about: slot zero of the
// carried batch for a probe, or the original probe target on an indirect
// reply, so a forwarder's answer still counts as the target having responded.
// It is independent of the Progress loop: a host calls it directly from
// whatever handler receives protocol messages.
func (c *Context) UpdatesParse(goctx context.Context, fromID, id MemberID, upds []Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.self == InvalidMember || len(upds) == 0 {
		return nil
	}

	fromState, err := c.ops.GetMemberState(goctx, fromID)
	if err != nil || fromState.Status == StatusDead {
		c.logf("updates_parse: dropping untrustworthy batch from %d", fromID)
		return ErrNonExist
	}

	if c.state == stateBegin || c.state == statePinged || c.state == stateIPinged {
		targetOK := fromID == c.target || id == c.target
		if !targetOK {
			for _, u := range upds {
				if u.ID == c.target {
					targetOK = true
					break
				}
			}
		}
		if targetOK {
			c.state = stateSelect
		}
	}

	for _, u := range upds {
		switch u.Status {
		case StatusInactive:
			// Bootstrap-only status; never interpreted from a peer.
			continue

		case StatusAlive:
			if u.ID == c.self {
				continue
			}
			if err := c.memberAliveLocked(goctx, fromID, u.ID, u.Incarnation); err != nil {
				if errors.Is(err, ErrNonExist) {
					c.logf("updates_parse: member %d not found, aborting batch", u.ID)
					return nil
				}
				return err
			}

		case StatusSuspect, StatusDead:
			if u.ID == c.self {
				if err := c.refuteLocked(goctx, fromID, u.Incarnation); err != nil {
					return err
				}
				continue
			}
			var err error
			if u.Status == StatusSuspect {
				err = c.memberSuspectLocked(goctx, fromID, u.ID, u.Incarnation)
			} else {
				err = c.memberDeadLocked(goctx, fromID, u.ID, u.Incarnation)
			}
			if err != nil {
				if errors.Is(err, ErrNonExist) {
					c.logf("updates_parse: member %d not found, aborting batch", u.ID)
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// refuteLocked bumps our own incarnation in response to a SUSPECT or DEAD
// claim about us, then re-announces ourselves ALIVE at the new incarnation.
// If our incarnation is already above the claimed one, the claim is a stale
// echo and is ignored. Callers must hold c.mu.
func (c *Context) refuteLocked(goctx context.Context, from MemberID, claimed Incarnation) error {
	self, err := c.ops.GetMemberState(goctx, c.self)
	if err != nil {
		return err
	}
	if self.Incarnation > claimed {
		return nil
	}

	newInc, err := c.mintIncarnation(goctx)
	if err != nil {
		return err
	}
	self.Incarnation = newInc
	if err := c.ops.SetMemberState(goctx, c.self, self); err != nil {
		return err
	}
	c.logf("refuting SUSPECT/DEAD claim about self from %d, new incarnation %d", from, newInc)
	c.enqueueUpdateLocked(c.self, c.self, 0)
	return nil
}

func (c *Context) mintIncarnation(goctx context.Context) (Incarnation, error) {
	minter, ok := c.ops.(IncarnationOps)
	if !ok {
		return 0, fmt.Errorf("swim: self was challenged but NewIncarnation is not implemented: %w", ErrInval)
	}
	return minter.NewIncarnation(goctx, c.self)
}

// memberAliveLocked applies an ALIVE claim about id. Callers must hold c.mu.
func (c *Context) memberAliveLocked(goctx context.Context, from, id MemberID, incarnation Incarnation) error {
	st, err := c.ops.GetMemberState(goctx, id)
	if err != nil {
		return err
	}

	if st.Status == StatusInactive {
		st.Status = StatusAlive
		st.Incarnation = incarnation
		if err := c.ops.SetMemberState(goctx, id, st); err != nil {
			return err
		}
		c.removeSuspectLocked(id)
		// Bootstrap completion is not widely spread: queue it at the
		// transmission limit so it rides on at most one more message.
		c.enqueueUpdateLocked(id, from, c.piggybackTxMax)
		c.metrics.ObserveBootstrap(id)
		return nil
	}

	accept := incarnation > st.Incarnation
	if !accept {
		if st.Status == StatusDead || st.Status == StatusAlive {
			return nil
		}
		// st.Status == StatusSuspect at incarnation <= local: accept
		// the reconfirmation anyway, clearing the suspicion.
		accept = true
	}
	if !accept {
		return nil
	}

	st.Status = StatusAlive
	if incarnation > st.Incarnation {
		st.Incarnation = incarnation
	}
	if err := c.ops.SetMemberState(goctx, id, st); err != nil {
		return err
	}
	c.removeSuspectLocked(id)
	c.enqueueUpdateLocked(id, from, 0)
	return nil
}

// memberSuspectLocked applies a SUSPECT claim about id. Callers must hold
// c.mu.
func (c *Context) memberSuspectLocked(goctx context.Context, from, id MemberID, incarnation Incarnation) error {
	if c.suspectTimeout == 0 {
		return c.memberDeadLocked(goctx, from, id, incarnation)
	}

	st, err := c.ops.GetMemberState(goctx, id)
	if err != nil {
		return err
	}
	if st.Status == StatusInactive {
		return nil
	}

	accept := incarnation > st.Incarnation
	if !accept {
		if st.Status == StatusDead || st.Status == StatusSuspect || st.Incarnation > incarnation {
			return nil
		}
		accept = true
	}
	if !accept {
		return nil
	}

	st.Status = StatusSuspect
	st.Incarnation = incarnation
	if err := c.ops.SetMemberState(goctx, id, st); err != nil {
		return err
	}

	now := c.clock()
	found := false
	for _, e := range c.suspects {
		if e.id == id {
			e.from = from
			e.deadline = now.Add(c.suspectTimeout)
			found = true
			break
		}
	}
	if !found {
		c.suspects = append(c.suspects, &suspectEntry{id: id, from: from, deadline: now.Add(c.suspectTimeout)})
	}

	c.enqueueUpdateLocked(id, from, 0)
	c.metrics.ObserveSuspect(id)
	return nil
}

// memberDeadLocked applies a DEAD claim about id. Callers must hold c.mu.
func (c *Context) memberDeadLocked(goctx context.Context, from, id MemberID, incarnation Incarnation) error {
	st, err := c.ops.GetMemberState(goctx, id)
	if err != nil {
		return err
	}

	var accept bool
	switch {
	case st.Status == StatusInactive:
		accept = c.glitch
	case incarnation > st.Incarnation:
		accept = true
	case st.Status == StatusDead, st.Incarnation > incarnation:
		accept = false
	default:
		accept = true
	}
	if !accept {
		return nil
	}

	st.Status = StatusDead
	st.Incarnation = incarnation
	if err := c.ops.SetMemberState(goctx, id, st); err != nil {
		return err
	}
	c.removeSuspectLocked(id)
	c.enqueueUpdateLocked(id, from, 0)
	c.metrics.ObserveDead(id)
	return nil
}

// UpdatesShort builds the minimal reply batch for a direct ACK: our own
// current state (after refuting any self-SUSPECT/DEAD claim found in
// updsIn), plus id's state if updsIn mentioned it. mint is called once per
// qualifying self-claim found, in update order.
//
// This is a pure function of its inputs, aside from mint: called twice with
// identical arguments and a deterministic mint, it produces identical
// output.
func UpdatesShort(goctx context.Context, selfID MemberID, selfIncarnation Incarnation, id MemberID, updsIn []Update, mint func(context.Context) (Incarnation, error)) ([]Update, error) {
	inc := selfIncarnation
	var idUpd *Update

	for i := range updsIn {
		u := &updsIn[i]
		if u.ID == selfID {
			if u.Incarnation < selfIncarnation {
				continue
			}
			if u.Status != StatusSuspect && u.Status != StatusDead {
				continue
			}
			newInc, err := mint(goctx)
			if err != nil {
				return nil, err
			}
			inc = newInc
		} else if u.ID == id {
			idUpd = u
		}
	}

	out := make([]Update, 0, 2)
	out = append(out, Update{ID: selfID, Status: StatusAlive, Incarnation: inc})
	if id != selfID && idUpd != nil {
		out = append(out, Update{ID: id, Status: StatusAlive, Incarnation: idUpd.Incarnation})
	}
	return out, nil
}
