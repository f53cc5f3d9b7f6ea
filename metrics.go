package swim

import "time"

// MetricsRecorder is an optional instrumentation hook. A Config may supply
// one to observe engine-internal events without the engine itself depending
// on any particular metrics backend; internal/metrics provides a
// Prometheus-backed implementation.
type MetricsRecorder interface {
	// ObserveTick is called once per Progress iteration with the phase
	// the state machine is in after that iteration's dispatch.
	ObserveTick(state string)
	// ObserveGlitch is called when Progress detects it was re-entered
	// later than expected.
	ObserveGlitch(d time.Duration)
	// ObserveBootstrap is called when a member completes bootstrap
	// (transitions out of StatusInactive).
	ObserveBootstrap(id MemberID)
	// ObserveSuspect is called when a member is placed on probation.
	ObserveSuspect(id MemberID)
	// ObserveDead is called when a member is marked dead.
	ObserveDead(id MemberID)
	// ObservePiggyback is called after assembling an outbound message
	// with the number of update entries it carries.
	ObservePiggyback(n int)
	// ObserveQueueDepth reports the update queue and suspect list sizes
	// after each Progress iteration.
	ObserveQueueDepth(updates, suspects, ipings int)
}

// noopMetrics discards every observation; it is the default when a Config
// does not supply a MetricsRecorder.
type noopMetrics struct{}

func (noopMetrics) ObserveTick(string)              {}
func (noopMetrics) ObserveGlitch(time.Duration)     {}
func (noopMetrics) ObserveBootstrap(MemberID)       {}
func (noopMetrics) ObserveSuspect(MemberID)         {}
func (noopMetrics) ObserveDead(MemberID)            {}
func (noopMetrics) ObservePiggyback(int)            {}
func (noopMetrics) ObserveQueueDepth(int, int, int) {}
