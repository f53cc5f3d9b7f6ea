package hostdemo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/orbitmesh/swim"
)

// Once the receive loop accumulates glitchNthreshold consecutive read errors,
// the host tells the engine about a glitch and resets both counters; the
// processed-message counter only wraps at messageNthreshold. This is the demo
// host's own decision of *when* to call NetGlitchUpdate; the engine never
// makes that call itself.
const (
	glitchNthreshold  = 10
	messageNthreshold = 1000
)

// Transport is a UDP host for one swim.Context: a single net.UDPConn, JSON
// message framing, and one receive goroutine per process.
type Transport struct {
	store *Store
	ctx   *swim.Context
	log   *log.Logger

	conn *net.UDPConn

	mu        sync.Mutex
	nglitches int
	nmessages int

	// pendingForwards correlates a forwarded probe's wire ID to the
	// target it was sent on behalf of, so the eventual reply is routed to
	// IpingsReply instead of being mistaken for our own direct-probe ack.
	pendingForwards map[string]swim.MemberID

	// pendingIndirect correlates an indirect-probe request we (as the
	// original requester) sent to a forwarder with the final target it
	// names, so a successful reply can be folded into UpdatesParse as an
	// implicit ALIVE confirmation, per the engine's "A parses the
	// piggyback and transitions to SELECT" contract for a successful
	// indirect probe.
	pendingIndirect map[string]swim.MemberID
}

// Attach wires store and ctx to a UDP transport bound at bindAddr. It
// registers itself on store so Store.SendRequest/SendReply can reach it.
func Attach(store *Store, ctx *swim.Context, bindAddr string, logger *log.Logger) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("hostdemo: resolve %s: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("hostdemo: listen %s: %w", bindAddr, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	t := &Transport{
		store:           store,
		ctx:             ctx,
		conn:            conn,
		log:             logger,
		pendingForwards: make(map[string]swim.MemberID),
		pendingIndirect: make(map[string]swim.MemberID),
	}
	store.transport = t
	return t, nil
}

// LocalAddr returns the transport's bound UDP address.
func (t *Transport) LocalAddr() *net.UDPAddr { return t.conn.LocalAddr().(*net.UDPAddr) }

// Close stops the UDP socket. The receive goroutine exits on its next read.
func (t *Transport) Close() error { return t.conn.Close() }

// Serve runs the receive loop until ctx is canceled or the socket closes.
func (t *Transport) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.noteGlitch()
			continue
		}
		t.noteMessage()

		var msg message
		if jsonErr := json.Unmarshal(buf[:n], &msg); jsonErr != nil {
			t.log.Printf("hostdemo: malformed message from %s: %v", from, jsonErr)
			continue
		}
		t.handle(ctx, from, msg)
	}
}

// noteGlitch and noteMessage implement the glitch/message watermark:
// glitchNthreshold consecutive receive errors triggers NetGlitchUpdate and
// resets both counters; a processed message resets the error streak.
func (t *Transport) noteGlitch() {
	t.mu.Lock()
	t.nglitches++
	fire := t.nglitches >= glitchNthreshold
	if fire {
		t.nglitches, t.nmessages = 0, 0
	}
	t.mu.Unlock()
	if fire {
		t.ctx.NetGlitchUpdate(t.ctx.SelfGet(), t.ctx.PeriodGet())
		t.log.Printf("hostdemo: %d consecutive receive errors, reporting glitch", glitchNthreshold)
	}
}

func (t *Transport) noteMessage() {
	t.mu.Lock()
	t.nglitches = 0
	t.nmessages++
	if t.nmessages >= messageNthreshold {
		t.nmessages = 0
	}
	t.mu.Unlock()
}

func (t *Transport) handle(ctx context.Context, from *net.UDPAddr, msg message) {
	switch msg.Type {
	case "request":
		fromID := swim.MemberID(msg.From)
		t.store.AddPeer(fromID, from)
		subject := fromID
		if len(msg.Upds) > 0 {
			subject = swim.MemberID(msg.Upds[0].ID)
		}
		if err := t.ctx.UpdatesParse(ctx, fromID, subject, fromWire(msg.Upds)); err != nil {
			t.log.Printf("hostdemo: UpdatesParse from %d: %v", fromID, err)
		}

		// Slot zero of a request names who is being probed; if it isn't
		// us, the sender is asking us to forward an indirect probe.
		if len(msg.Upds) > 0 && swim.MemberID(msg.Upds[0].ID) != t.ctx.SelfGet() {
			target := swim.MemberID(msg.Upds[0].ID)
			if err := t.ctx.IpingsSuspend(ctx, fromID, target, []byte(msg.ID)); err != nil {
				t.log.Printf("hostdemo: IpingsSuspend(%d): %v", target, err)
			}
			t.forwardProbe(ctx, target)
			return
		}

		t.replyDirect(ctx, fromID, msg.ID, fromWire(msg.Upds))

	case "reply":
		t.handleReply(ctx, msg)
	}
}

// forwardProbe is the indirect-probe forwarder path: having staged the
// original requester's IPING, send our own one-off probe at target and
// remember its wire ID so the eventual reply is routed to IpingsReply
// instead of mistaken for one of our own engine-driven probes.
func (t *Transport) forwardProbe(ctx context.Context, target swim.MemberID) {
	addr := t.store.Addr(target)
	if addr == nil {
		t.ctx.IpingsReply(ctx, target, swim.ErrNonExist)
		return
	}
	st, err := t.store.GetMemberState(ctx, target)
	if err != nil {
		t.ctx.IpingsReply(ctx, target, err)
		return
	}

	corrID := newMessageID()
	t.mu.Lock()
	t.pendingForwards[corrID] = target
	t.mu.Unlock()

	msg := message{
		Type: "request",
		ID:   corrID,
		From: uint64(t.ctx.SelfGet()),
		To:   uint64(target),
		Upds: toWire([]swim.Update{{ID: target, Status: st.Status, Incarnation: st.Incarnation, Delay: st.Delay}}),
	}
	if err := t.writeTo(addr, msg); err != nil {
		t.mu.Lock()
		delete(t.pendingForwards, corrID)
		t.mu.Unlock()
		t.ctx.IpingsReply(ctx, target, err)
	}
}

// replyDirect acks a direct probe with the short-update batch: our own ALIVE
// (refuted on the spot if the probe carried a SUSPECT/DEAD claim about us,
// though UpdatesParse normally beats it to that) plus an ALIVE echo about the
// requester if the probe mentioned it.
func (t *Transport) replyDirect(ctx context.Context, to swim.MemberID, corrID string, inUpds []swim.Update) {
	addr := t.store.Addr(to)
	if addr == nil {
		return
	}
	selfID := t.ctx.SelfGet()
	selfState, err := t.store.GetMemberState(ctx, selfID)
	if err != nil {
		return
	}
	upds, err := swim.UpdatesShort(ctx, selfID, selfState.Incarnation, to, inUpds,
		func(c context.Context) (swim.Incarnation, error) {
			return t.store.NewIncarnation(c, selfID)
		})
	if err != nil {
		t.log.Printf("hostdemo: short reply to %d: %v", to, err)
		return
	}
	reply := message{
		Type: "reply",
		ID:   corrID,
		From: uint64(selfID),
		To:   uint64(to),
		OK:   true,
		Upds: toWire(upds),
	}
	t.writeTo(addr, reply)
}

func (t *Transport) handleReply(ctx context.Context, msg message) {
	t.mu.Lock()
	forwardTarget, isForward := t.pendingForwards[msg.ID]
	if isForward {
		delete(t.pendingForwards, msg.ID)
	}
	indirectTarget, isIndirect := t.pendingIndirect[msg.ID]
	if isIndirect {
		delete(t.pendingIndirect, msg.ID)
	}
	t.mu.Unlock()

	var rc error
	if !msg.OK {
		rc = errors.New(msg.RC)
	}

	switch {
	case isForward:
		// We relayed this probe on someone else's behalf; hand the
		// outcome back to them.
		t.ctx.IpingsReply(ctx, forwardTarget, rc)

	case isIndirect && rc == nil:
		// Our own forwarder confirmed the target is reachable: fold
		// that into our view as an implicit ALIVE confirmation so the
		// tick machine leaves IPINGED without suspecting the target.
		st, err := t.store.GetMemberState(ctx, indirectTarget)
		if err != nil {
			return
		}
		upd := swim.Update{ID: indirectTarget, Status: swim.StatusAlive, Incarnation: st.Incarnation, Delay: st.Delay}
		if err := t.ctx.UpdatesParse(ctx, indirectTarget, indirectTarget, []swim.Update{upd}); err != nil {
			t.log.Printf("hostdemo: UpdatesParse indirect confirmation for %d: %v", indirectTarget, err)
		}

	case isIndirect:
		// Forwarder reported failure or timeout; let the tick
		// machine's own IPINGED deadline decide whether to suspect.

	default:
		fromID := swim.MemberID(msg.From)
		if err := t.ctx.UpdatesParse(ctx, fromID, fromID, fromWire(msg.Upds)); err != nil {
			t.log.Printf("hostdemo: UpdatesParse ack from %d: %v", fromID, err)
		}
	}
}

// sendRequest is the swim.Ops.SendRequest path: marshal upds and send a
// "request" envelope to to's last-known address. When slot zero names a
// member other than to, this is the engine asking a forwarder to run an
// indirect probe on our behalf; the correlation is remembered so a
// successful reply can be folded into our own view without waiting out the
// IPINGED deadline.
func (t *Transport) sendRequest(ctx context.Context, to swim.MemberID, upds []swim.Update) error {
	addr := t.store.Addr(to)
	if addr == nil {
		return fmt.Errorf("hostdemo: no address known for %d: %w", to, swim.ErrNonExist)
	}
	corrID := newMessageID()
	if len(upds) > 0 && upds[0].ID != to {
		t.mu.Lock()
		t.pendingIndirect[corrID] = upds[0].ID
		t.mu.Unlock()
	}
	msg := message{
		Type: "request",
		ID:   corrID,
		From: uint64(t.ctx.SelfGet()),
		To:   uint64(to),
		Upds: toWire(upds),
	}
	return t.writeTo(addr, msg)
}

// sendReply is the swim.ReplyOps.SendReply path: args carries the original
// message ID supplied to IpingsSuspend, echoed back for correlation.
func (t *Transport) sendReply(ctx context.Context, to swim.MemberID, rc error, args []byte) error {
	addr := t.store.Addr(to)
	if addr == nil {
		return fmt.Errorf("hostdemo: no address known for %d: %w", to, swim.ErrNonExist)
	}
	msg := message{Type: "reply", ID: string(args), From: uint64(t.ctx.SelfGet()), To: uint64(to), OK: rc == nil}
	if rc != nil {
		msg.RC = rc.Error()
	}
	return t.writeTo(addr, msg)
}

func (t *Transport) writeTo(addr *net.UDPAddr, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("hostdemo: marshal: %w", err)
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("hostdemo: write to %s: %w", addr, err)
	}
	return nil
}
