package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestCache_LastWriteWins(t *testing.T) {
	c := NewLatestCache()
	_, ok := c.Get("esp32-1")
	assert.False(t, ok)

	t1, t2 := 20.0, 21.0
	c.Put(Snapshot{Device: "esp32-1", Metrics: Metrics{Temp: &t1}})
	c.Put(Snapshot{Device: "esp32-1", Metrics: Metrics{Temp: &t2}})

	snap, ok := c.Get("esp32-1")
	require.True(t, ok)
	assert.Equal(t, 21.0, *snap.Metrics.Temp)
	assert.Equal(t, 1, c.Len())
}

func TestLatestCache_Concurrent(t *testing.T) {
	c := NewLatestCache()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("dev-%d", i%5)
			c.Put(Snapshot{Device: name, Timestamp: time.Now()})
			c.Get(name)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}
