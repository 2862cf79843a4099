// Package guard decides, per inbound chat event, whether a user is accepted,
// throttled, warned or blocked. State is in-memory and lives for the process
// lifetime.
package guard

import (
	"sync"
	"time"
)

type Config struct {
	MinInterval          time.Duration
	MaxImagesPerMinute   int
	MaxMessagesPerMinute int
	BlockDuration        time.Duration
	Window               time.Duration
	// ExtendOnly makes Block keep the later of the current and new expiry
	// instead of overwriting it.
	ExtendOnly bool
}

func DefaultConfig() Config {
	return Config{
		MinInterval:          5 * time.Second,
		MaxImagesPerMinute:   3,
		MaxMessagesPerMinute: 15,
		BlockDuration:        30 * time.Minute,
		Window:               60 * time.Second,
	}
}

type Warning int

const (
	WarnNone Warning = iota
	WarnTooManyMessages
	WarnTooManyImages
)

func (w Warning) String() string {
	switch w {
	case WarnTooManyMessages:
		return "too_many_messages"
	case WarnTooManyImages:
		return "too_many_images"
	default:
		return "none"
	}
}

type Outcome int

const (
	Accepted Outcome = iota
	Blocked
	Throttled
	Warned
)

func (o Outcome) String() string {
	switch o {
	case Blocked:
		return "blocked"
	case Throttled:
		return "throttled"
	case Warned:
		return "warned"
	default:
		return "accepted"
	}
}

type Decision struct {
	Outcome Outcome
	Warning Warning
}

// Activity is a read-only view of a user's record.
type Activity struct {
	LastMessageTime time.Time
	Messages        int
	Images          int
	BlockedUntil    time.Time
}

type record struct {
	mu              sync.Mutex
	lastMessageTime time.Time
	messages        window
	images          window
	blockedUntil    time.Time
}

type Guard struct {
	cfg   Config
	clock Clock

	mu      sync.RWMutex
	records map[string]*record
}

type Option func(*Guard)

func WithClock(c Clock) Option {
	return func(g *Guard) { g.clock = c }
}

func New(cfg Config, opts ...Option) *Guard {
	g := &Guard{
		cfg:     cfg,
		clock:   SystemClock(),
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) lookup(userID string) *record {
	if rec, ok := g.peek(userID); ok {
		return rec
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[userID]; ok {
		return rec
	}
	rec := &record{}
	g.records[userID] = rec
	return rec
}

func (g *Guard) peek(userID string) (*record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[userID]
	return rec, ok
}

func (g *Guard) IsBlocked(userID string, now time.Time) bool {
	rec, ok := g.peek(userID)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return now.Before(rec.blockedUntil)
}

func (g *Guard) Block(userID string, now time.Time, duration time.Duration) {
	rec := g.lookup(userID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	g.blockLocked(rec, now, duration)
}

func (g *Guard) blockLocked(rec *record, now time.Time, duration time.Duration) {
	until := now.Add(duration)
	if g.cfg.ExtendOnly && rec.blockedUntil.After(until) {
		return
	}
	rec.blockedUntil = until
}

// TooFrequent reports whether the user sent a message less than MinInterval
// after the last accepted one. A rejected call leaves the record untouched.
func (g *Guard) TooFrequent(userID string, now time.Time) bool {
	rec := g.lookup(userID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.lastMessageTime.IsZero() && now.Sub(rec.lastMessageTime) < g.cfg.MinInterval {
		return true
	}
	rec.lastMessageTime = now
	return false
}

// RecordAndCheck counts the message toward the per-minute ceilings and blocks
// the user when one is exceeded. The message ceiling is checked first.
func (g *Guard) RecordAndCheck(userID string, now time.Time, isImage bool) Warning {
	rec := g.lookup(userID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.messages.push(now)
	rec.messages.evict(now, g.cfg.Window)
	if rec.messages.len() > g.cfg.MaxMessagesPerMinute {
		g.blockLocked(rec, now, g.cfg.BlockDuration)
		return WarnTooManyMessages
	}

	if isImage {
		rec.images.push(now)
		rec.images.evict(now, g.cfg.Window)
		if rec.images.len() > g.cfg.MaxImagesPerMinute {
			g.blockLocked(rec, now, g.cfg.BlockDuration)
			return WarnTooManyImages
		}
	}

	return WarnNone
}

// Check runs IsBlocked, TooFrequent and RecordAndCheck in that order against
// a single clock reading, stopping at the first rejection.
func (g *Guard) Check(userID string, isImage bool) Decision {
	now := g.clock.Now()
	if g.IsBlocked(userID, now) {
		return Decision{Outcome: Blocked}
	}
	if g.TooFrequent(userID, now) {
		return Decision{Outcome: Throttled}
	}
	if w := g.RecordAndCheck(userID, now, isImage); w != WarnNone {
		return Decision{Outcome: Warned, Warning: w}
	}
	return Decision{Outcome: Accepted}
}

// Snapshot returns the user's current activity without creating a record.
// Window counts reflect the last touch; no eviction happens here.
func (g *Guard) Snapshot(userID string) (Activity, bool) {
	rec, ok := g.peek(userID)
	if !ok {
		return Activity{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Activity{
		LastMessageTime: rec.lastMessageTime,
		Messages:        rec.messages.len(),
		Images:          rec.images.len(),
		BlockedUntil:    rec.blockedUntil,
	}, true
}

func (g *Guard) Now() time.Time { return g.clock.Now() }

// Users returns the number of tracked user records.
func (g *Guard) Users() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}
