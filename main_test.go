package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normanking/talkingavatar/internal/media"
)

func TestReleaseMedia_WaitsForStartupContext(t *testing.T) {
	var (
		mu       sync.Mutex
		released []media.Refs
	)
	a := &App{emit: func(_ context.Context, name string, data ...interface{}) {
		assert.Equal(t, "media:release", name)
		mu.Lock()
		released = append(released, data[0].(media.Refs))
		mu.Unlock()
	}}

	a.releaseMedia(media.Refs{Video: "blob:early"})
	assert.Empty(t, released, "nothing to tell the page before startup")

	a.mu.Lock()
	a.ctx = context.Background()
	a.mu.Unlock()

	a.releaseMedia(media.Refs{Video: "blob:1"})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []media.Refs{{Video: "blob:1"}}, released)
}

func TestReleaseMedia_ConcurrentWithStartup(t *testing.T) {
	var emitted atomic.Int32
	a := &App{emit: func(context.Context, string, ...interface{}) { emitted.Add(1) }}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.mu.Lock()
		a.ctx = context.Background()
		a.mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			a.releaseMedia(media.Refs{Audio: "blob:a"})
		}
	}()
	wg.Wait()

	a.releaseMedia(media.Refs{Audio: "blob:b"})
	assert.GreaterOrEqual(t, emitted.Load(), int32(1))
}
