package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyStateTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	km := NewKeyStateManager()
	km.now = func() time.Time { return now }

	assert.True(t, km.IsAvailable("fp-a"))

	km.MarkCooldown("fp-a", time.Minute)
	assert.False(t, km.IsAvailable("fp-a"))
	assert.Equal(t, KeyStatusCooldown, km.Snapshot()["fp-a"].Status)

	now = now.Add(2 * time.Minute)
	assert.True(t, km.IsAvailable("fp-a"))
	assert.NotContains(t, km.Snapshot(), "fp-a")

	km.MarkDead("fp-b")
	km.MarkCooldown("fp-b", time.Second)
	now = now.Add(time.Hour)
	assert.False(t, km.IsAvailable("fp-b"), "cooldown must not revive a dead key")

	km.MarkAvailable("fp-b")
	assert.True(t, km.IsAvailable("fp-b"))

	km.MarkDead("fp-c")
	km.Reset()
	assert.True(t, km.IsAvailable("fp-c"))
	assert.Empty(t, km.Snapshot())
}

func TestKeyStateConcurrentAccess(t *testing.T) {
	km := NewKeyStateManager()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			km.MarkCooldown("fp", time.Nanosecond)
		}()
		go func() {
			defer wg.Done()
			km.IsAvailable("fp")
		}()
	}
	wg.Wait()

	km.MarkDead("fp")
	time.Sleep(time.Millisecond)
	assert.False(t, km.IsAvailable("fp"))
}
