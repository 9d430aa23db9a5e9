package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"skkn-server/internal/domain"
	"skkn-server/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testKey(i int) string { return fmt.Sprintf("AIzaSyTestKey%04d", i) }

func newTestPool(t *testing.T, n int, opts ...Option) (*Pool, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	p := NewPool(DefaultConfig(), store.NewMemoryStore(), zap.NewNop(), opts...)
	for i := 1; i <= n; i++ {
		require.NoError(t, p.Add(context.Background(), testKey(i), ""))
	}
	return p, clock
}

func TestPoolAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("trims and names", func(t *testing.T) {
		p, _ := newTestPool(t, 0)
		require.NoError(t, p.Add(ctx, "  "+testKey(1)+"  ", ""))
		require.NoError(t, p.Add(ctx, testKey(2), "Trường THPT"))
		list := p.List()
		require.Len(t, list, 2)
		assert.Equal(t, "Key 1", list[0].Name)
		assert.Equal(t, "Trường THPT", list[1].Name)
		assert.Equal(t, Mask(testKey(1)), list[0].Key)
	})

	t.Run("rejects duplicate", func(t *testing.T) {
		p, _ := newTestPool(t, 1)
		assert.ErrorIs(t, p.Add(ctx, testKey(1), ""), domain.ErrCredentialExists)
	})

	t.Run("rejects short key", func(t *testing.T) {
		p, _ := newTestPool(t, 0)
		assert.ErrorIs(t, p.Add(ctx, "short", ""), domain.ErrCredentialInvalid)
	})

	t.Run("rejects when full", func(t *testing.T) {
		p, _ := newTestPool(t, 10)
		assert.ErrorIs(t, p.Add(ctx, testKey(11), ""), domain.ErrPoolFull)
		assert.Equal(t, 10, p.Len())
	})
}

func TestPoolFailureTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("cooldown after threshold", func(t *testing.T) {
		p, _ := newTestPool(t, 1)
		key := testKey(1)
		p.ReportFailure(ctx, key, domain.KindTransient, "429")
		p.ReportFailure(ctx, key, domain.KindTransient, "429")
		st, err := p.Status(key)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, st)

		p.ReportFailure(ctx, key, domain.KindTransient, "429")
		st, _ = p.Status(key)
		assert.Equal(t, StatusCooldown, st)
	})

	t.Run("success resets counter", func(t *testing.T) {
		p, _ := newTestPool(t, 1)
		key := testKey(1)
		p.ReportFailure(ctx, key, domain.KindTransient, "503")
		p.ReportFailure(ctx, key, domain.KindTransient, "503")
		p.ReportSuccess(ctx, key)
		p.ReportFailure(ctx, key, domain.KindTransient, "503")
		st, _ := p.Status(key)
		assert.Equal(t, StatusActive, st)
		assert.Equal(t, 1, p.List()[0].ErrorCount)
	})

	t.Run("invalid disables immediately", func(t *testing.T) {
		p, clock := newTestPool(t, 1)
		key := testKey(1)
		p.ReportFailure(ctx, key, domain.KindInvalidCredential, "API key not valid")
		st, _ := p.Status(key)
		assert.Equal(t, StatusDisabled, st)

		clock.Advance(time.Hour)
		st, _ = p.Status(key)
		assert.Equal(t, StatusDisabled, st, "disabled is terminal until reset")

		require.NoError(t, p.Reset(ctx, key))
		st, _ = p.Status(key)
		assert.Equal(t, StatusActive, st)
	})

	t.Run("late transient failure keeps disabled", func(t *testing.T) {
		p, clock := newTestPool(t, 1)
		key := testKey(1)
		p.ReportFailure(ctx, key, domain.KindTransient, "503")
		p.ReportFailure(ctx, key, domain.KindTransient, "503")
		p.ReportFailure(ctx, key, domain.KindInvalidCredential, "API key not valid")
		p.ReportFailure(ctx, key, domain.KindTransient, "timeout")

		clock.Advance(61 * time.Second)
		st, _ := p.Status(key)
		assert.Equal(t, StatusDisabled, st)
		assert.Equal(t, "timeout", p.List()[0].LastError)
		_, err := p.Acquire(nil)
		assert.ErrorIs(t, err, domain.ErrNoCredentialsAvailable)
	})

	t.Run("failure during cooldown does not extend it", func(t *testing.T) {
		p, clock := newTestPool(t, 1)
		key := testKey(1)
		for i := 0; i < 3; i++ {
			p.ReportFailure(ctx, key, domain.KindTransient, "429")
		}
		clock.Advance(30 * time.Second)
		p.ReportFailure(ctx, key, domain.KindTransient, "429")

		clock.Advance(30 * time.Second)
		st, _ := p.Status(key)
		assert.Equal(t, StatusActive, st)
	})
}

func TestPoolCooldownExpiry(t *testing.T) {
	ctx := context.Background()
	p, clock := newTestPool(t, 1)
	key := testKey(1)

	for i := 0; i < 3; i++ {
		p.ReportFailure(ctx, key, domain.KindTransient, "timeout")
	}
	cooldownAt := clock.Now()

	for _, offset := range []time.Duration{0, time.Second, 59 * time.Second, 60*time.Second - time.Nanosecond} {
		clock.t = cooldownAt.Add(offset)
		st, _ := p.Status(key)
		assert.Equal(t, StatusCooldown, st, "offset %v", offset)
		_, err := p.Acquire(nil)
		assert.ErrorIs(t, err, domain.ErrNoCredentialsAvailable, "offset %v", offset)
	}

	clock.t = cooldownAt.Add(60 * time.Second)
	st, _ := p.Status(key)
	assert.Equal(t, StatusActive, st)
	assert.Equal(t, 0, p.List()[0].ErrorCount)

	got, err := p.Acquire(nil)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestPoolRotationOrder(t *testing.T) {
	ctx := context.Background()
	const n = 4
	p, _ := newTestPool(t, n)

	tried := map[string]bool{}
	var order []string
	for i := 0; i < n; i++ {
		key, err := p.Acquire(func(k string) bool { return tried[k] })
		require.NoError(t, err)
		tried[key] = true
		order = append(order, key)
		p.ReportFailure(ctx, key, domain.KindTransient, "503")
		p.RotateToNext(ctx, "503")
	}
	assert.Equal(t, []string{testKey(1), testKey(2), testKey(3), testKey(4)}, order)

	_, err := p.Acquire(func(k string) bool { return tried[k] })
	assert.ErrorIs(t, err, domain.ErrNoCredentialsAvailable)
}

func TestPoolAllInvalid(t *testing.T) {
	ctx := context.Background()
	allFailed := 0
	p, _ := newTestPool(t, 3, WithAllFailedHandler(func() { allFailed++ }))

	for i := 0; i < 3; i++ {
		key, err := p.Acquire(nil)
		require.NoError(t, err)
		assert.Equal(t, testKey(i+1), key)
		p.ReportFailure(ctx, key, domain.KindInvalidCredential, "401")
		p.RotateToNext(ctx, "invalid")
	}
	_, err := p.Acquire(nil)
	assert.ErrorIs(t, err, domain.ErrNoCredentialsAvailable)
	assert.Equal(t, 1, allFailed)
	assert.False(t, p.HasAvailable())
	assert.Equal(t, Stats{Total: 3, Disabled: 3}, p.Stats())
}

func TestPoolRotateCallback(t *testing.T) {
	var events []RotationEvent
	p, _ := newTestPool(t, 2, WithRotationHandler(func(ev RotationEvent) { events = append(events, ev) }))

	next, ok := p.RotateToNext(context.Background(), "manual")
	require.True(t, ok)
	assert.Equal(t, testKey(2), next)
	assert.Equal(t, 1, p.CurrentIndex())
	require.Len(t, events, 1)
	assert.Equal(t, RotationEvent{From: Mask(testKey(1)), To: Mask(testKey(2)), Reason: "manual"}, events[0])
}

func TestPoolRemoveReindexes(t *testing.T) {
	ctx := context.Background()

	t.Run("remove before current", func(t *testing.T) {
		p, _ := newTestPool(t, 3)
		p.Advance(ctx)
		p.Advance(ctx)
		require.Equal(t, 2, p.CurrentIndex())
		require.NoError(t, p.Remove(ctx, testKey(1)))
		assert.Equal(t, 1, p.CurrentIndex())
		key, err := p.Acquire(nil)
		require.NoError(t, err)
		assert.Equal(t, testKey(3), key)
	})

	t.Run("remove current last slot wraps", func(t *testing.T) {
		p, _ := newTestPool(t, 3)
		p.Advance(ctx)
		p.Advance(ctx)
		require.NoError(t, p.Remove(ctx, testKey(3)))
		assert.Equal(t, 0, p.CurrentIndex())
	})

	t.Run("remove current moves to following key", func(t *testing.T) {
		p, _ := newTestPool(t, 3)
		p.Advance(ctx)
		require.NoError(t, p.Remove(ctx, testKey(2)))
		assert.Equal(t, 1, p.CurrentIndex())
		key, _ := p.Acquire(nil)
		assert.Equal(t, testKey(3), key)
	})

	t.Run("remove everything", func(t *testing.T) {
		p, _ := newTestPool(t, 1)
		require.NoError(t, p.Remove(ctx, testKey(1)))
		assert.Equal(t, 0, p.CurrentIndex())
		_, err := p.Acquire(nil)
		assert.ErrorIs(t, err, domain.ErrNoCredentialsAvailable)
	})

	t.Run("unknown key", func(t *testing.T) {
		p, _ := newTestPool(t, 1)
		assert.ErrorIs(t, p.Remove(ctx, testKey(9)), domain.ErrCredentialUnknown)
	})
}

func TestPoolPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		kv := store.NewMemoryStore()
		p := NewPool(DefaultConfig(), kv, zap.NewNop())
		require.NoError(t, p.Add(ctx, testKey(1), "A"))
		require.NoError(t, p.Add(ctx, testKey(2), "B"))
		p.Advance(ctx)
		p.ReportFailure(ctx, testKey(1), domain.KindInvalidCredential, "401")

		raw, err := kv.Get(ctx, store.KeyCredentials)
		require.NoError(t, err)
		var snap struct {
			Keys         []Credential `json:"keys"`
			CurrentIndex int          `json:"currentIndex"`
		}
		require.NoError(t, json.Unmarshal(raw, &snap))
		assert.Len(t, snap.Keys, 2)
		assert.Equal(t, 1, snap.CurrentIndex)

		restored := NewPool(DefaultConfig(), kv, zap.NewNop())
		require.NoError(t, restored.Load(ctx))
		assert.Equal(t, 1, restored.CurrentIndex())
		st, _ := restored.Status(testKey(1))
		assert.Equal(t, StatusDisabled, st)
		assert.Equal(t, "B", restored.List()[1].Name)
	})

	t.Run("legacy key migration", func(t *testing.T) {
		kv := store.NewMemoryStore()
		require.NoError(t, store.SetJSON(ctx, kv, store.KeyLegacyCredential, testKey(7)))

		p := NewPool(DefaultConfig(), kv, zap.NewNop())
		require.NoError(t, p.Load(ctx))
		list := p.List()
		require.Len(t, list, 1)
		assert.Equal(t, "Key mặc định", list[0].Name)
		key, err := p.Acquire(nil)
		require.NoError(t, err)
		assert.Equal(t, testKey(7), key)
	})
}

func TestMask(t *testing.T) {
	assert.Equal(t, "***", Mask("short"))
	assert.Equal(t, "AIza...0001", Mask("AIzaSyTestKey0001"))
}
