package swim

import (
	"context"
	"errors"
	"time"
)

// pingDelay picks a probe timeout from a member's rolling delay estimate:
// twice the estimate, clamped into [PingTimeout, 3*PingTimeout]. A zero
// estimate yields PingTimeout.
func pingDelay(stateDelay, pingTimeout time.Duration) time.Duration {
	d := stateDelay * 2
	if d < pingTimeout {
		d = pingTimeout
	}
	if d > 3*pingTimeout {
		d = 3 * pingTimeout
	}
	return d
}

// packPiggyback assembles the update batch for a message about id addressed
// to to. Slot zero is always id's own state; self's state and to's state
// follow when they differ from id; the remaining budget (PiggybackEntries)
// is filled from the update queue, most-recently-learned first.
//
// A failure to resolve id, self or to is fatal and aborts assembly (these
// are the facts the message exists to carry). A queue entry that no longer
// resolves is simply dropped from the queue; it does not abort the message.
func (c *Context) packPiggyback(goctx context.Context, id, to MemberID) ([]Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	budget := PiggybackEntries + 1
	if id != c.self {
		budget++
	}
	if id != to {
		budget++
	}

	out := make([]Update, 0, budget)

	st, err := c.ops.GetMemberState(goctx, id)
	if err != nil {
		if errors.Is(err, ErrNonExist) {
			c.logf("piggyback: %d not bootstrapped yet", id)
		}
		return nil, err
	}
	out = append(out, Update{ID: id, Status: st.Status, Incarnation: st.Incarnation, Delay: st.Delay})

	if id != c.self {
		ss, err := c.ops.GetMemberState(goctx, c.self)
		if err != nil {
			return nil, err
		}
		out = append(out, Update{ID: c.self, Status: ss.Status, Incarnation: ss.Incarnation, Delay: ss.Delay})
	}

	if id != to {
		ts, err := c.ops.GetMemberState(goctx, to)
		if err != nil {
			if errors.Is(err, ErrNonExist) {
				c.logf("piggyback: %d not bootstrapped yet", to)
			}
			return nil, err
		}
		out = append(out, Update{ID: to, Status: ts.Status, Incarnation: ts.Incarnation, Delay: ts.Delay})
	}

	kept := c.updates[:0]
	for _, e := range c.updates {
		// Already represented by one of the first three slots: leave the
		// entry untouched in the queue for a future message where it
		// isn't coincidentally the probed/self/recipient member.
		if e.id == id || e.id == c.self || e.id == to {
			kept = append(kept, e)
			continue
		}
		// Outbound budget exhausted: hold the entry for a later pass
		// rather than dropping it (the queue is unbounded except by
		// piggybackTxMax).
		if len(out) >= budget {
			kept = append(kept, e)
			continue
		}
		st, err := c.ops.GetMemberState(goctx, e.id)
		if err != nil {
			if errors.Is(err, ErrNonExist) {
				continue
			}
			return nil, err
		}
		out = append(out, Update{ID: e.id, Status: st.Status, Incarnation: st.Incarnation, Delay: st.Delay})
		e.txCount++
		if e.txCount <= c.piggybackTxMax {
			kept = append(kept, e)
		}
	}
	c.updates = kept

	c.metrics.ObservePiggyback(len(out))
	return out, nil
}
