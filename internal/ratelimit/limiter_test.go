package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitWithinLimit(t *testing.T) {
	l := New(map[string]int{"dshield": 3})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Admit("dshield").Granted, "admission %d should be granted", i)
	}

	d := l.Admit("dshield")
	assert.False(t, d.Granted)
	assert.False(t, d.RetryAt.IsZero(), "denial should carry a retry time")
}

func TestAdmitRollingWindow(t *testing.T) {
	l := New(map[string]int{"dshield": 2})

	start := time.Now()
	clock := start
	l.now = func() time.Time { return clock }

	require.True(t, l.Admit("dshield").Granted)

	clock = start.Add(30 * time.Second)
	require.True(t, l.Admit("dshield").Granted)

	// 59s in: the first admission is still inside the window.
	clock = start.Add(59 * time.Second)
	d := l.Admit("dshield")
	assert.False(t, d.Granted)
	assert.Equal(t, start.Add(time.Minute), d.RetryAt)

	// 61s in: the first admission has aged out, one slot is free.
	clock = start.Add(61 * time.Second)
	assert.True(t, l.Admit("dshield").Granted)

	// The 30s and 61s admissions fill the window again.
	assert.False(t, l.Admit("dshield").Granted)
}

func TestAdmitUnknownSource(t *testing.T) {
	l := New(map[string]int{"dshield": 10})

	assert.False(t, l.Admit("nonexistent").Granted)
}

func TestAdmitZeroLimit(t *testing.T) {
	l := New(map[string]int{"dshield": 0})

	assert.False(t, l.Admit("dshield").Granted)
}

func TestAdmitSourcesIndependent(t *testing.T) {
	l := New(map[string]int{"dshield": 1, "virustotal": 1})

	require.True(t, l.Admit("dshield").Granted)
	assert.False(t, l.Admit("dshield").Granted)

	assert.True(t, l.Admit("virustotal").Granted, "exhausting one source must not affect another")
}

func TestWindow(t *testing.T) {
	l := New(map[string]int{"dshield": 5})

	used, limit := l.Window("dshield")
	assert.Equal(t, 0, used)
	assert.Equal(t, 5, limit)

	l.Admit("dshield")
	l.Admit("dshield")

	used, limit = l.Window("dshield")
	assert.Equal(t, 2, used)
	assert.Equal(t, 5, limit)

	used, limit = l.Window("nonexistent")
	assert.Equal(t, 0, used)
	assert.Equal(t, 0, limit)
}

// TestAdmitConcurrent hammers one source from many goroutines and checks
// the ceiling holds exactly.
func TestAdmitConcurrent(t *testing.T) {
	const limit = 40
	l := New(map[string]int{"dshield": limit})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("dshield").Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), granted.Load())
}
