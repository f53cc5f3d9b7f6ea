package swim

import (
	"context"
	"errors"
	"time"
)

// pendingProbe describes an outbound message the state machine decided to
// send, deferred until the main lock is released so piggyback assembly (which
// re-acquires the lock itself) never nests under it.
type pendingProbe struct {
	id MemberID // member the message is about (slot zero)
	to MemberID // message recipient
}

// Progress drives the probe-cycle state machine forward for up to timeout
// (zero or negative means "do one non-blocking pass"). It returns
// ErrTimedOut when the deadline elapsed, or ErrCanceled when there is
// nothing to do before the next interesting event — neither is an error a
// caller should log as one.
func (c *Context) Progress(goctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	self := c.self
	c.mu.Unlock()
	if self == InvalidMember {
		return nil
	}

	now := c.clock()
	end := now
	if timeout > 0 {
		end = now.Add(timeout)
	}

	c.mu.Lock()
	glitchDelay := time.Duration(0)
	if !c.expectProgressTime.IsZero() && now.After(c.expectProgressTime) {
		glitchDelay = now.Sub(c.expectProgressTime)
	}
	c.nextEvent = now.Add(c.period)
	c.nextEventSet = true
	c.mu.Unlock()
	if glitchDelay > 0 {
		c.logf("progress callback was not re-entered for too long: %s after expected", glitchDelay)
		c.metrics.ObserveGlitch(glitchDelay)
	}

	// The first pass always runs, even on an already-expired timeout, so a
	// non-blocking Progress(0) still advances the machine one step.
	result := ErrTimedOut
	for first := true; ; first = false {
		now = c.clock()

		c.mu.Lock()
		state := c.state
		c.mu.Unlock()

		if !first && now.After(end) && state != stateTimedOut {
			result = ErrTimedOut
			break
		}

		if err := c.suspectSweep(goctx, now, glitchDelay); err != nil {
			return err
		}
		if err := c.ipingSweep(goctx, now, glitchDelay); err != nil {
			return err
		}

		probe, err := c.tickOnce(goctx, now, glitchDelay)
		if err != nil {
			return err
		}

		if probe != nil {
			upds, err := c.packPiggyback(goctx, probe.id, probe.to)
			if err != nil {
				c.logf("piggyback assembly for %d -> %d failed: %v", probe.id, probe.to, err)
			} else {
				c.mu.Lock()
				from := c.self
				c.mu.Unlock()
				if err := c.ops.SendRequest(goctx, from, probe.to, upds); err != nil {
					c.logf("send_request to %d failed: %v", probe.to, err)
				}
			}
		}

		// The starvation compensation is a one-shot: every deadline has
		// been shifted once by now, so later passes of this same call
		// must not shift them again.
		glitchDelay = 0

		c.mu.Lock()
		nextEvent := c.nextEvent
		depthUpdates, depthSuspects, depthIpings := len(c.updates), len(c.suspects), len(c.ipings)
		c.mu.Unlock()
		c.metrics.ObserveQueueDepth(depthUpdates, depthSuspects, depthIpings)

		if probe == nil {
			now = c.clock()
			if now.Add(loopSlack).Before(nextEvent) {
				if now.After(end) {
					result = ErrTimedOut
				} else {
					result = ErrCanceled
				}
				break
			}
		}
	}

	c.mu.Lock()
	c.expectProgressTime = c.clock().Add(c.period)
	c.mu.Unlock()
	return result
}

// tickOnce runs one pass of the probe-cycle state machine: it reconciles the
// current target's state, dispatches the active phase, and returns the probe
// to send (if any) once the lock is released.
func (c *Context) tickOnce(goctx context.Context, now time.Time, glitchDelay time.Duration) (*pendingProbe, error) {
	c.mu.Lock()

	var targetState MemberState
	if c.target != InvalidMember {
		st, err := c.ops.GetMemberState(goctx, c.target)
		if err != nil {
			c.target = InvalidMember
			c.state = stateSelect
			if !errors.Is(err, ErrNonExist) {
				c.mu.Unlock()
				return nil, err
			}
		} else {
			targetState = st
		}
	} else {
		c.state = stateSelect
	}

	var probe *pendingProbe
	switch c.state {
	case stateBegin:
		probe = c.dispatchBeginLocked(now, targetState)
	case statePinged:
		probe = c.dispatchPingedLocked(now, glitchDelay, targetState)
	case stateTimedOut:
		probe = c.dispatchTimedOutLocked(goctx, now, targetState)
	case stateIPinged:
		c.dispatchIPingedLocked(goctx, now, glitchDelay, targetState)
	case stateSelect:
		c.dispatchSelectLocked(goctx, now)
	}
	state := c.state
	c.mu.Unlock()

	c.metrics.ObserveTick(state.String())
	return probe, nil
}

// dispatchBeginLocked is the BEGIN phase: wait for the next tick boundary,
// then launch a direct probe at the current target. Callers must hold c.mu.
func (c *Context) dispatchBeginLocked(now time.Time, targetState MemberState) *pendingProbe {
	if !now.After(c.nextTickTime) {
		c.advanceNextEventLocked(c.nextTickTime)
		return nil
	}

	delay := pingDelay(targetState.Delay, c.pingTimeout)
	c.nextTickTime = c.nextTickTime.Add(c.period)
	c.deadline = now.Add(delay)
	c.advanceNextEventLocked(c.deadline)
	c.state = statePinged
	return &pendingProbe{id: c.target, to: c.target}
}

// dispatchPingedLocked is the PINGED phase: wait for the direct probe's
// deadline. Callers must hold c.mu.
func (c *Context) dispatchPingedLocked(now time.Time, glitchDelay time.Duration, targetState MemberState) *pendingProbe {
	c.deadline = c.deadline.Add(glitchDelay)
	if now.After(c.deadline) {
		if targetState.Status != StatusInactive {
			c.state = stateTimedOut
		} else {
			c.state = stateSelect
		}
	} else {
		c.advanceNextEventLocked(c.deadline)
	}
	return nil
}

// dispatchTimedOutLocked is the TIMEDOUT phase: consume one subgroup
// assignment per pass, probing indirectly through a forwarder (or retrying
// directly, if the target is still bootstrapping and GetIpingTarget handed
// back the target itself). Callers must hold c.mu.
func (c *Context) dispatchTimedOutLocked(goctx context.Context, now time.Time, targetState MemberState) *pendingProbe {
	if len(c.subgroup) == 0 {
		c.buildSubgroupLocked(goctx)
	}
	if len(c.subgroup) == 0 {
		c.state = stateIPinged
		return nil
	}

	entry := c.subgroup[0]
	c.subgroup = c.subgroup[1:]

	var probe *pendingProbe
	forwarderState, err := c.ops.GetMemberState(goctx, entry.id)
	if err == nil {
		delay := pingDelay(targetState.Delay, c.pingTimeout)
		if entry.target != entry.id {
			if forwarderState.Status == StatusAlive {
				delay *= 2
				deadline := now.Add(delay)
				if deadline.After(c.deadline) {
					c.deadline = deadline
				}
				c.advanceNextEventLocked(c.deadline)
				probe = &pendingProbe{id: entry.target, to: entry.id}
			}
		} else if forwarderState.Status == StatusInactive {
			deadline := now.Add(delay)
			if deadline.After(c.deadline) {
				c.deadline = deadline
			}
			c.advanceNextEventLocked(c.deadline)
			probe = &pendingProbe{id: entry.target, to: entry.id}
		}
	}

	if len(c.subgroup) == 0 {
		c.state = stateIPinged
	}
	return probe
}

// dispatchIPingedLocked is the IPINGED phase: wait for the indirect probes'
// shared deadline, and suspect the target if none of them landed. Callers
// must hold c.mu.
func (c *Context) dispatchIPingedLocked(goctx context.Context, now time.Time, glitchDelay time.Duration, targetState MemberState) {
	c.deadline = c.deadline.Add(glitchDelay)
	if now.After(c.deadline) {
		if targetState.Status != StatusInactive {
			if err := c.memberSuspectLocked(goctx, c.self, c.target, targetState.Incarnation); err != nil {
				c.logf("suspect(%d) failed: %v", c.target, err)
			}
		}
		c.state = stateSelect
	} else {
		c.advanceNextEventLocked(c.nextTickTime)
	}
}

// dispatchSelectLocked is the SELECT phase: pick the next probe target, or
// idle for a full period if the host has none to offer. Callers must hold
// c.mu.
func (c *Context) dispatchSelectLocked(goctx context.Context, now time.Time) {
	next := c.ops.GetDpingTarget(goctx)
	if next == InvalidMember {
		c.nextEvent = now.Add(c.period)
		c.nextEventSet = true
		return
	}
	c.target = next
	c.advanceNextEventLocked(c.nextTickTime)
	c.state = stateBegin
}

// suspectSweep ages the suspect list: entries past their deadline are either
// escalated to a self-confirmed probe (if we weren't the original reporter)
// or, if they already were, marked DEAD.
func (c *Context) suspectSweep(goctx context.Context, now time.Time, glitchDelay time.Duration) error {
	c.mu.Lock()

	type confirmTarget struct {
		id, to MemberID
	}
	var confirms []confirmTarget

	// Detach the list before walking it: the aged-out path below calls
	// memberDeadLocked, which prunes c.suspects itself, and must not see
	// the entry being walked.
	sweeping := c.suspects
	c.suspects = nil
	for i, e := range sweeping {
		e.deadline = e.deadline.Add(glitchDelay)
		if !now.After(e.deadline) {
			c.advanceNextEventLocked(e.deadline)
			c.suspects = append(c.suspects, e)
			continue
		}

		st, err := c.ops.GetMemberState(goctx, e.id)
		if err != nil || st.Status != StatusSuspect {
			continue // already resolved or removed elsewhere
		}

		if e.from != c.self {
			original := e.from
			e.from = c.self
			e.deadline = now.Add(c.pingTimeout)
			c.suspects = append(c.suspects, e)
			confirms = append(confirms, confirmTarget{id: e.id, to: original})
			continue
		}

		if err := c.memberDeadLocked(goctx, c.self, e.id, st.Incarnation); err != nil {
			c.suspects = append(c.suspects, sweeping[i+1:]...)
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	for _, ct := range confirms {
		upds, err := c.packPiggyback(goctx, ct.id, ct.to)
		if err != nil {
			c.logf("suspect confirmation piggyback for %d failed: %v", ct.id, err)
			continue
		}
		c.mu.Lock()
		from := c.self
		c.mu.Unlock()
		if err := c.ops.SendRequest(goctx, from, ct.to, upds); err != nil {
			c.logf("suspect confirmation send to %d failed: %v", ct.to, err)
		}
	}
	return nil
}

// ipingSweep times out staged indirect-ping requests that were never
// answered by the host, replying ErrTimedOut to whoever asked for the
// forward.
func (c *Context) ipingSweep(goctx context.Context, now time.Time, glitchDelay time.Duration) error {
	c.mu.Lock()
	var expired []*ipingEntry
	kept := c.ipings[:0]
	for _, e := range c.ipings {
		e.deadline = e.deadline.Add(glitchDelay)
		if now.After(e.deadline) {
			expired = append(expired, e)
			continue
		}
		c.advanceNextEventLocked(e.deadline)
		kept = append(kept, e)
	}
	c.ipings = kept
	c.mu.Unlock()

	for _, e := range expired {
		c.sendReply(goctx, e, ErrTimedOut)
	}
	return nil
}
