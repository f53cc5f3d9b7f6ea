// Package swim implements the core SWIM failure-detection protocol engine:
// a tick-driven state machine that runs direct and indirect liveness probes,
// tracks suspicion, and disseminates membership deltas by piggybacking them
// on outbound probe traffic.
//
// The engine owns none of its own I/O. A host embeds it, drives it forward
// by calling Progress from whatever event loop it already runs, and supplies
// the member store and transport through the Ops interface: the engine never
// dials a socket or owns a member table, it only decides what to send and to
// whom.
package swim
