package swim

import "context"

// enqueueUpdateLocked records that a fact about id, learned from from,
// should be disseminated. If id is already queued, its entry is refreshed in
// place (reporter and transmission count updated, position unchanged);
// otherwise a new entry is inserted at the front of the queue, so the most
// recently learned facts are the first candidates considered by the next
// piggyback assembly. Callers must hold c.mu.
func (c *Context) enqueueUpdateLocked(id, from MemberID, txCount int) {
	for _, e := range c.updates {
		if e.id == id {
			e.from = from
			e.txCount = txCount
			return
		}
	}
	entry := &queueEntry{id: id, from: from, txCount: txCount}
	c.updates = append([]*queueEntry{entry}, c.updates...)
}

// removeSuspectLocked drops id from the suspect list, if present. Callers
// must hold c.mu.
func (c *Context) removeSuspectLocked(id MemberID) {
	for i, e := range c.suspects {
		if e.id == id {
			c.suspects = append(c.suspects[:i], c.suspects[i+1:]...)
			return
		}
	}
}

// MemberDel removes id from the suspect list. It is the host's way to tell
// the engine that a member has been permanently forgotten (e.g. evicted from
// the group), so a stale suspicion about it does not linger and eventually
// fire a DEAD update about a member the host no longer tracks.
func (c *Context) MemberDel(id MemberID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeSuspectLocked(id)
}

// buildSubgroupLocked asks the host for up to SubgroupSize forwarders to use
// for indirect probing of the current target. Callers must hold c.mu.
func (c *Context) buildSubgroupLocked(goctx context.Context) {
	c.subgroup = c.subgroup[:0]
	for i := 0; i < c.subgroupSize; i++ {
		fwd := c.ops.GetIpingTarget(goctx)
		if fwd == InvalidMember {
			return
		}
		c.subgroup = append(c.subgroup, subgroupEntry{target: c.target, id: fwd})
	}
}
