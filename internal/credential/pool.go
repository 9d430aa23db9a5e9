package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"skkn-server/internal/domain"
	"skkn-server/internal/store"

	"go.uber.org/zap"
)

// Status of a stored credential.
type Status string

const (
	StatusActive   Status = "active"
	StatusCooldown Status = "cooldown"
	StatusDisabled Status = "disabled"
)

const minKeyLength = 10

// Config holds pool limits.
type Config struct {
	MaxKeys          int
	MaxErrorCount    int
	CooldownDuration time.Duration
}

// DefaultConfig mirrors the limits the service ships with.
func DefaultConfig() Config {
	return Config{MaxKeys: 10, MaxErrorCount: 3, CooldownDuration: 60 * time.Second}
}

// Credential is one API key with its health.
type Credential struct {
	Key           string    `json:"key"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	LastError     string    `json:"lastError,omitempty"`
	ErrorCount    int       `json:"errorCount"`
	CooldownUntil time.Time `json:"cooldownUntil,omitempty"`
	AddedAt       time.Time `json:"addedAt"`
}

// Info is the masked view of a credential.
type Info struct {
	Key           string     `json:"key"`
	Name          string     `json:"name"`
	Status        Status     `json:"status"`
	LastError     string     `json:"lastError,omitempty"`
	ErrorCount    int        `json:"errorCount"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
	Current       bool       `json:"current"`
}

// Stats counts credentials per status.
type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Disabled int `json:"disabled"`
	Cooldown int `json:"cooldown"`
}

// RotationEvent describes a switch of the preferred credential. Keys are masked.
type RotationEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type snapshot struct {
	Keys         []Credential `json:"keys"`
	CurrentIndex int          `json:"currentIndex"`
}

// Pool holds the API credentials and picks the next usable one.
// All methods are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	keys    []*Credential
	current int

	cfg    Config
	kv     store.KV
	now    func() time.Time
	logger *zap.Logger

	onRotate    func(RotationEvent)
	onAllFailed func()
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithRotationHandler registers a callback fired on every rotation.
func WithRotationHandler(fn func(RotationEvent)) Option {
	return func(p *Pool) { p.onRotate = fn }
}

// WithAllFailedHandler registers a callback fired when rotation finds nothing usable.
func WithAllFailedHandler(fn func()) Option {
	return func(p *Pool) { p.onAllFailed = fn }
}

// NewPool creates an empty pool. kv may be nil for a non persistent pool.
func NewPool(cfg Config, kv store.KV, logger *zap.Logger, opts ...Option) *Pool {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultConfig().MaxKeys
	}
	if cfg.MaxErrorCount <= 0 {
		cfg.MaxErrorCount = DefaultConfig().MaxErrorCount
	}
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = DefaultConfig().CooldownDuration
	}
	p := &Pool{
		cfg:    cfg,
		kv:     kv,
		now:    time.Now,
		logger: logger.Named("CredentialPool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load restores the pool from the store and migrates a legacy single key.
func (p *Pool) Load(ctx context.Context) error {
	if p.kv == nil {
		return nil
	}
	var snap snapshot
	err := store.GetJSON(ctx, p.kv, store.KeyCredentials, &snap)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load credentials: %w", err)
	}

	p.mu.Lock()
	p.keys = p.keys[:0]
	for i := range snap.Keys {
		c := snap.Keys[i]
		switch c.Status {
		case "error": // older snapshots
			c.Status = StatusDisabled
		case "":
			c.Status = StatusActive
		}
		p.keys = append(p.keys, &c)
	}
	p.current = snap.CurrentIndex
	if p.current < 0 || p.current >= len(p.keys) {
		p.current = 0
	}
	p.refreshLocked()
	empty := len(p.keys) == 0
	p.mu.Unlock()

	if empty {
		var legacy string
		err := store.GetJSON(ctx, p.kv, store.KeyLegacyCredential, &legacy)
		switch {
		case err == nil && legacy != "":
			p.logger.Info("Migrating legacy API key into the pool", zap.String("key", Mask(legacy)))
			if err := p.Add(ctx, legacy, "Key mặc định"); err != nil {
				return fmt.Errorf("migrate legacy credential: %w", err)
			}
		case err != nil && !errors.Is(err, store.ErrNotFound):
			p.logger.Warn("Ignoring unreadable legacy API key", zap.Error(err))
		}
	}
	return nil
}

// Add appends a credential. The name defaults to "Key N".
func (p *Pool) Add(ctx context.Context, key, name string) error {
	key = strings.TrimSpace(key)
	p.mu.Lock()
	if len(p.keys) >= p.cfg.MaxKeys {
		p.mu.Unlock()
		return fmt.Errorf("%w: limit is %d", domain.ErrPoolFull, p.cfg.MaxKeys)
	}
	if p.findLocked(key) >= 0 {
		p.mu.Unlock()
		return domain.ErrCredentialExists
	}
	if len(key) < minKeyLength {
		p.mu.Unlock()
		return domain.ErrCredentialInvalid
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Key %d", len(p.keys)+1)
	}
	p.keys = append(p.keys, &Credential{
		Key:     key,
		Name:    name,
		Status:  StatusActive,
		AddedAt: p.now(),
	})
	p.mu.Unlock()

	p.logger.Info("Credential added", zap.String("key", Mask(key)), zap.String("name", name))
	return p.save(ctx)
}

// Remove deletes a credential and keeps the rotation pointer on a valid slot.
func (p *Pool) Remove(ctx context.Context, key string) error {
	p.mu.Lock()
	idx := p.findLocked(key)
	if idx < 0 {
		p.mu.Unlock()
		return domain.ErrCredentialUnknown
	}
	p.keys = append(p.keys[:idx], p.keys[idx+1:]...)
	switch {
	case len(p.keys) == 0:
		p.current = 0
	case idx < p.current:
		p.current--
	case idx == p.current && p.current >= len(p.keys):
		// removed the last slot while it was current; wrap to the first
		p.current = 0
	}
	p.mu.Unlock()

	p.logger.Info("Credential removed", zap.String("key", Mask(key)))
	return p.save(ctx)
}

// Reset returns a credential to active and clears its counters. It is the
// only way out of the disabled state.
func (p *Pool) Reset(ctx context.Context, key string) error {
	p.mu.Lock()
	idx := p.findLocked(key)
	if idx < 0 {
		p.mu.Unlock()
		return domain.ErrCredentialUnknown
	}
	c := p.keys[idx]
	c.Status = StatusActive
	c.ErrorCount = 0
	c.CooldownUntil = time.Time{}
	c.LastError = ""
	p.mu.Unlock()
	return p.save(ctx)
}

// Rename changes the display name; a blank name keeps the old one.
func (p *Pool) Rename(ctx context.Context, key, name string) error {
	p.mu.Lock()
	idx := p.findLocked(key)
	if idx < 0 {
		p.mu.Unlock()
		return domain.ErrCredentialUnknown
	}
	if n := strings.TrimSpace(name); n != "" {
		p.keys[idx].Name = n
	}
	p.mu.Unlock()
	return p.save(ctx)
}

// Acquire returns the first active credential in rotation order, skipping
// keys for which skip returns true. Cooldowns that have expired are cleared
// first. It never returns a credential that is not active.
func (p *Pool) Acquire(skip func(key string) bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()

	n := len(p.keys)
	for i := 0; i < n; i++ {
		idx := (p.current + i) % n
		c := p.keys[idx]
		if c.Status != StatusActive {
			continue
		}
		if skip != nil && skip(c.Key) {
			continue
		}
		p.current = idx
		return c.Key, nil
	}
	return "", domain.ErrNoCredentialsAvailable
}

// ReportFailure records a failed request. An invalid credential is disabled
// at once; otherwise the key goes into cooldown after MaxErrorCount failures.
func (p *Pool) ReportFailure(ctx context.Context, key string, kind domain.ErrorKind, reason string) {
	p.mu.Lock()
	p.refreshLocked()
	idx := p.findLocked(key)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	c := p.keys[idx]
	c.ErrorCount++
	c.LastError = reason
	// Disabled only leaves through Reset; a running cooldown is not extended.
	switch {
	case c.Status == StatusDisabled:
	case kind == domain.KindInvalidCredential:
		c.Status = StatusDisabled
		c.CooldownUntil = time.Time{}
	case c.Status == StatusCooldown:
	case c.ErrorCount >= p.cfg.MaxErrorCount:
		c.Status = StatusCooldown
		c.CooldownUntil = p.now().Add(p.cfg.CooldownDuration)
	}
	status, count := c.Status, c.ErrorCount
	p.mu.Unlock()

	p.logger.Warn("Credential failure recorded",
		zap.String("key", Mask(key)),
		zap.String("kind", string(kind)),
		zap.String("status", string(status)),
		zap.Int("errorCount", count),
	)
	p.saveQuietly(ctx)
}

// ReportSuccess clears the consecutive error counter.
func (p *Pool) ReportSuccess(ctx context.Context, key string) {
	p.mu.Lock()
	idx := p.findLocked(key)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	changed := p.keys[idx].ErrorCount != 0 || p.keys[idx].LastError != ""
	p.keys[idx].ErrorCount = 0
	p.keys[idx].LastError = ""
	p.mu.Unlock()
	if changed {
		p.saveQuietly(ctx)
	}
}

// Advance moves the rotation pointer past the current credential.
func (p *Pool) Advance(ctx context.Context) {
	p.mu.Lock()
	if len(p.keys) > 0 {
		p.current = (p.current + 1) % len(p.keys)
	}
	p.mu.Unlock()
	p.saveQuietly(ctx)
}

// RotateToNext moves the pointer to the next active credential after the
// current one. It reports false and fires the all-failed callback when no
// credential is usable.
func (p *Pool) RotateToNext(ctx context.Context, reason string) (string, bool) {
	p.mu.Lock()
	p.refreshLocked()
	n := len(p.keys)
	var from string
	if p.current < n {
		from = p.keys[p.current].Key
	}
	for i := 1; i <= n; i++ {
		idx := (p.current + i) % n
		next := p.keys[idx]
		if next.Status != StatusActive {
			continue
		}
		p.current = idx
		onRotate := p.onRotate
		p.mu.Unlock()

		ev := RotationEvent{From: Mask(from), To: Mask(next.Key), Reason: reason}
		credentialRotations.WithLabelValues(reason).Inc()
		p.logger.Info("Rotated credential", zap.String("from", ev.From), zap.String("to", ev.To), zap.String("reason", reason))
		if onRotate != nil && from != "" {
			onRotate(ev)
		}
		p.saveQuietly(ctx)
		return next.Key, true
	}
	onAllFailed := p.onAllFailed
	p.mu.Unlock()

	p.logger.Warn("No usable credential left", zap.String("reason", reason))
	if onAllFailed != nil {
		onAllFailed()
	}
	return "", false
}

// List returns masked credentials in rotation order.
func (p *Pool) List() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
	out := make([]Info, 0, len(p.keys))
	for i, c := range p.keys {
		info := Info{
			Key:        Mask(c.Key),
			Name:       c.Name,
			Status:     c.Status,
			LastError:  c.LastError,
			ErrorCount: c.ErrorCount,
			Current:    i == p.current,
		}
		if !c.CooldownUntil.IsZero() {
			until := c.CooldownUntil
			info.CooldownUntil = &until
		}
		out = append(out, info)
	}
	return out
}

// KeyAt returns the raw key at position i, for management endpoints that
// address keys by index.
func (p *Pool) KeyAt(i int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.keys) {
		return "", domain.ErrCredentialUnknown
	}
	return p.keys[i].Key, nil
}

// Status returns the current status of key.
func (p *Pool) Status(key string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
	idx := p.findLocked(key)
	if idx < 0 {
		return "", domain.ErrCredentialUnknown
	}
	return p.keys[idx].Status, nil
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
	s := Stats{Total: len(p.keys)}
	for _, c := range p.keys {
		switch c.Status {
		case StatusActive:
			s.Active++
		case StatusDisabled:
			s.Disabled++
		case StatusCooldown:
			s.Cooldown++
		}
	}
	return s
}

// HasAvailable reports whether any credential is active.
func (p *Pool) HasAvailable() bool {
	return p.Stats().Active > 0
}

// CurrentIndex is the position of the preferred credential.
func (p *Pool) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Len is the number of stored credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Mask hides all but the first and last four characters.
func Mask(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// refreshLocked reactivates credentials whose cooldown has expired.
func (p *Pool) refreshLocked() bool {
	now := p.now()
	changed := false
	for _, c := range p.keys {
		if c.Status == StatusCooldown && !now.Before(c.CooldownUntil) {
			c.Status = StatusActive
			c.ErrorCount = 0
			c.CooldownUntil = time.Time{}
			changed = true
		}
	}
	return changed
}

func (p *Pool) findLocked(key string) int {
	for i, c := range p.keys {
		if c.Key == key {
			return i
		}
	}
	return -1
}

func (p *Pool) save(ctx context.Context) error {
	if p.kv == nil {
		return nil
	}
	p.mu.Lock()
	snap := snapshot{Keys: make([]Credential, 0, len(p.keys)), CurrentIndex: p.current}
	for _, c := range p.keys {
		snap.Keys = append(snap.Keys, *c)
	}
	var active string
	if p.current < len(p.keys) && p.keys[p.current].Status == StatusActive {
		active = p.keys[p.current].Key
	}
	p.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	entries := map[string][]byte{store.KeyCredentials: raw}
	if active != "" {
		// keep the single-key entry readable by older clients
		legacy, err := json.Marshal(active)
		if err != nil {
			return err
		}
		entries[store.KeyLegacyCredential] = legacy
	}
	if err := p.kv.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (p *Pool) saveQuietly(ctx context.Context) {
	if err := p.save(ctx); err != nil {
		p.logger.Error("Failed to persist credential pool", zap.Error(err))
	}
}
