package swim

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"
)

// Default protocol tunables.
const (
	DefaultPeriod         = 1000 * time.Millisecond
	DefaultSuspectTimeout = 20 * DefaultPeriod
	DefaultPingTimeout    = 900 * time.Millisecond
	DefaultSubgroupSize   = 2

	// PiggybackEntries is the number of update-queue slots packed onto
	// each outbound message, on top of the mandatory target/self/peer
	// slots.
	PiggybackEntries = 8
	// PiggybackTxMax bounds a queue entry's transmission count: the entry
	// is dropped once it has ridden on more than this many outbound
	// messages.
	PiggybackTxMax = 50

	// loopSlack is how far into the future the next interesting event
	// must be before Progress gives up spinning and returns ErrCanceled.
	loopSlack = 100 * time.Millisecond
)

// Environment variables read once at Config resolution time.
const (
	EnvPeriod         = "SWIM_PROTOCOL_PERIOD_LEN"
	EnvSuspectTimeout = "SWIM_SUSPECT_TIMEOUT"
	EnvPingTimeout    = "SWIM_PING_TIMEOUT"
	EnvSubgroupSize   = "SWIM_SUBGROUP_SIZE"
)

// Config supplies the identity, collaborators and tunables for a new
// Context. Ops is required; Self may be InvalidMember (see New). Zero
// tunables fall back first to the matching SWIM_* environment variable, if
// any, and then to the package default.
type Config struct {
	Self MemberID
	Ops  Ops
	Data any

	Period         time.Duration
	PingTimeout    time.Duration
	SuspectTimeout time.Duration
	SubgroupSize   int
	PiggybackTxMax int

	Logger  *log.Logger
	Metrics MetricsRecorder

	// Clock overrides time.Now, for deterministic tests. Defaults to
	// time.Now.
	Clock func() time.Time
}

// Context is one member's SWIM protocol engine. It is safe for concurrent
// use: every exported method other than Data takes the same internal lock,
// and Ops callbacks other than SendRequest and SendReply are invoked with
// that lock held, so a host's Ops implementation must never call back into
// the Context it is serving from those callbacks.
type Context struct {
	mu sync.Mutex

	ops  Ops
	data any

	self  MemberID
	state tickState

	target   MemberID
	subgroup []subgroupEntry

	period         time.Duration
	pingTimeout    time.Duration
	suspectTimeout time.Duration
	subgroupSize   int
	piggybackTxMax int

	nextTickTime time.Time
	deadline     time.Time

	nextEvent    time.Time
	nextEventSet bool

	expectProgressTime time.Time
	glitch             bool

	updates  []*queueEntry
	suspects []*suspectEntry
	ipings   []*ipingEntry

	logger  *log.Logger
	metrics MetricsRecorder
	clock   func() time.Time
}

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// New creates a Context. Self may be InvalidMember, in which case the
// engine is created paused: Progress and UpdatesParse become no-ops until
// SelfSet activates it.
func New(cfg Config) (*Context, error) {
	if cfg.Ops == nil {
		return nil, fmt.Errorf("swim: New: Ops is nil: %w", ErrInval)
	}

	c := &Context{
		ops:  cfg.Ops,
		data: cfg.Data,
		self: cfg.Self,
	}

	c.period = cfg.Period
	if c.period == 0 {
		c.period = envDuration(EnvPeriod, DefaultPeriod)
	}
	c.suspectTimeout = cfg.SuspectTimeout
	if c.suspectTimeout == 0 {
		c.suspectTimeout = envDuration(EnvSuspectTimeout, 20*c.period)
	}
	c.pingTimeout = cfg.PingTimeout
	if c.pingTimeout == 0 {
		c.pingTimeout = envDuration(EnvPingTimeout, DefaultPingTimeout)
	}
	c.subgroupSize = cfg.SubgroupSize
	if c.subgroupSize == 0 {
		c.subgroupSize = envInt(EnvSubgroupSize, DefaultSubgroupSize)
	}
	c.piggybackTxMax = cfg.PiggybackTxMax
	if c.piggybackTxMax == 0 {
		c.piggybackTxMax = PiggybackTxMax
	}

	c.logger = cfg.Logger
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "swim: ", log.LstdFlags)
	}
	c.metrics = cfg.Metrics
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	c.clock = cfg.Clock
	if c.clock == nil {
		c.clock = time.Now
	}

	now := c.clock()
	c.state = stateBegin
	c.nextTickTime = now.Add(3 * c.period)
	c.expectProgressTime = now

	return c, nil
}

func (c *Context) logf(format string, args ...any) {
	c.logger.Printf(format, args...)
}

// Close releases resources and answers every staged indirect ping with
// ErrTimedOut, since no further replies will ever arrive for them.
func (c *Context) Close() {
	c.mu.Lock()
	ipings := c.ipings
	c.ipings = nil
	c.updates = nil
	c.suspects = nil
	c.subgroup = nil
	c.mu.Unlock()

	for _, e := range ipings {
		c.sendReply(context.Background(), e, ErrTimedOut)
	}
}

// SelfSet changes this engine's own identity. Setting it to InvalidMember
// pauses the engine; setting it from InvalidMember to a real identity
// reactivates it with a fresh lead-in window before the first probe.
func (c *Context) SelfSet(id MemberID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasPaused := c.self == InvalidMember
	c.self = id
	if wasPaused && id != InvalidMember {
		now := c.clock()
		c.state = stateBegin
		c.target = InvalidMember
		c.nextTickTime = now.Add(3 * c.period)
		c.expectProgressTime = now
	}
}

// SelfGet returns this engine's own identity.
func (c *Context) SelfGet() MemberID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Data returns the opaque value supplied in Config.
func (c *Context) Data() any {
	return c.data
}

func (c *Context) PeriodGet() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.period
}

func (c *Context) PeriodSet(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.period = d
}

func (c *Context) SuspectTimeoutGet() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspectTimeout
}

func (c *Context) SuspectTimeoutSet(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspectTimeout = d
}

func (c *Context) PingTimeoutGet() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingTimeout
}

func (c *Context) PingTimeoutSet(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingTimeout = d
}

func (c *Context) SubgroupSizeGet() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subgroupSize
}

func (c *Context) SubgroupSizeSet(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subgroupSize = n
}

// GlitchSet toggles the engine's glitch-accommodation bit. While set, a DEAD
// claim about a still-bootstrapping (StatusInactive) member is accepted
// instead of ignored, letting a host that knows it is recovering from a
// network-wide disruption push through liveness news it would otherwise
// suppress. The engine never sets this itself; it is purely a host
// decision.
func (c *Context) GlitchSet(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.glitch = v
}

func (c *Context) GlitchGet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.glitch
}

// advanceNextEventLocked records that the engine would like Progress to be
// re-entered by t, keeping the earliest such request seen this iteration.
// Callers must hold c.mu.
func (c *Context) advanceNextEventLocked(t time.Time) {
	if !c.nextEventSet || t.Before(c.nextEvent) {
		c.nextEvent = t
		c.nextEventSet = true
	}
}
