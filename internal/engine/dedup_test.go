package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_AdmitOnce(t *testing.T) {
	g := NewGate()
	assert.True(t, g.Admit("op-1"))
	assert.False(t, g.Admit("op-1"))
	assert.True(t, g.Admit("op-2"))
	assert.Equal(t, 2, g.Len())
}

func TestGate_MarkSeenBlocksEcho(t *testing.T) {
	g := NewGate()
	g.MarkSeen("local-op")
	assert.True(t, g.Seen("local-op"))
	assert.False(t, g.Admit("local-op"))
}

func TestGate_Clear(t *testing.T) {
	g := NewGate()
	g.Admit("op-1")
	g.MarkSeen("op-2")
	g.Clear()

	assert.Equal(t, 0, g.Len())
	assert.True(t, g.Admit("op-1"), "cleared ids are admitted again")
}

func TestGate_ConcurrentAdmitOnlyOnce(t *testing.T) {
	g := NewGate()
	const goroutines = 64

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit("same") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, goroutines-1, g.Dropped())
}

func TestGate_DroppedSurvivesClear(t *testing.T) {
	g := NewGate()
	g.MarkSeen("a")
	assert.False(t, g.Admit("a"))
	g.Clear()
	assert.True(t, g.Admit("a"))
	assert.Equal(t, 1, g.Dropped())
}
