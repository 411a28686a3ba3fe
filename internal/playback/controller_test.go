package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/media/mediatest"
)

const idleURI = "/assets/idle.mp4"

type rig struct {
	c     *Controller
	idle  *mediatest.Element
	video *mediatest.Element
	audio *mediatest.Element
	reg   *media.Registry
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		idle:  mediatest.New("idle"),
		video: mediatest.New("video"),
		audio: mediatest.New("audio"),
		reg:   media.NewRegistry(nil),
	}
	r.c = NewController(
		Elements{Idle: r.idle, Video: r.video, Audio: r.audio},
		Options{
			IdleURI:  idleURI,
			Retry:    RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond},
			Registry: r.reg,
			Logger:   zerolog.Nop(),
		},
	)
	t.Cleanup(r.c.Close)
	return r
}

// subscribedElements counts response elements with live listeners.
func (r *rig) subscribedElements() int {
	n := 0
	if r.video.Active() > 0 {
		n++
	}
	if r.audio.Active() > 0 {
		n++
	}
	return n
}

func TestController_StartPlaysIdleLoop(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.c.Start(context.Background()))

	assert.Equal(t, idleURI, r.idle.LastLoad())
	assert.Eventually(t, func() bool { return r.idle.Plays() == 1 }, time.Second, 5*time.Millisecond)

	snap := r.c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.IdleVisible)
	assert.Equal(t, idleURI, snap.IdleURI)
}

func TestController_VideoTurn(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.c.Start(context.Background()))
	require.Eventually(t, func() bool { return r.idle.Plays() == 1 }, time.Second, 5*time.Millisecond)

	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4", Audio: "/audio/1.mp3"})
	snap := r.c.Snapshot()
	assert.Equal(t, StateLoadingResponse, snap.State)
	assert.True(t, snap.IdleVisible, "idle stays up until the response is ready")
	assert.False(t, snap.ResponseVideoVisible)
	assert.True(t, snap.Loading)
	assert.Equal(t, "/video/1.mp4", r.video.LastLoad())
	assert.Zero(t, r.video.Plays(), "video must not play before ready")

	assert.Equal(t, 1, r.video.Fire(media.EventReady))
	snap = r.c.Snapshot()
	assert.Equal(t, StatePlayingResponseVideo, snap.State)
	assert.False(t, snap.IdleVisible)
	assert.True(t, snap.ResponseVideoVisible)
	assert.Eventually(t, func() bool { return r.video.Plays() == 1 }, time.Second, 5*time.Millisecond)

	r.video.Fire(media.EventEnded)
	snap = r.c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Zero(t, snap.TurnID)
	assert.Zero(t, r.video.Active(), "listeners must be detached on return to idle")
	assert.Eventually(t, func() bool { return r.idle.Plays() == 2 }, time.Second, 5*time.Millisecond)
}

func TestController_AudioOnlyTurn(t *testing.T) {
	r := newRig(t)

	r.c.StartTurn(1, media.Refs{Audio: "/audio/1.mp3"})
	snap := r.c.Snapshot()
	assert.Equal(t, StatePlayingAudioOnly, snap.State)
	assert.True(t, snap.AudioOnly)
	assert.True(t, snap.IdleVisible)
	assert.False(t, snap.ResponseVideoVisible)
	assert.Equal(t, "/audio/1.mp3", r.audio.LastLoad())
	assert.Eventually(t, func() bool { return r.audio.Plays() == 1 }, time.Second, 5*time.Millisecond)

	r.audio.Fire(media.EventEnded)
	assert.Equal(t, StateIdle, r.c.Snapshot().State)
	assert.Zero(t, r.audio.Active())
}

func TestController_TurnWithoutMediaStaysIdle(t *testing.T) {
	r := newRig(t)
	r.c.StartTurn(1, media.Refs{Audio: "/audio/1.mp3"})

	r.c.StartTurn(2, media.Refs{})
	assert.Equal(t, StateIdle, r.c.Snapshot().State)
	assert.Zero(t, r.subscribedElements())
	assert.True(t, r.reg.Current().Empty())
}

func TestController_SupersedingTurnDetachesPrevious(t *testing.T) {
	r := newRig(t)

	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4"})
	r.c.StartTurn(2, media.Refs{Audio: "/audio/2.mp3"})

	assert.Zero(t, r.video.Active())
	assert.Equal(t, 1, r.video.Stops())
	assert.Zero(t, r.video.Fire(media.EventEnded), "old video listeners must be gone")

	snap := r.c.Snapshot()
	assert.Equal(t, StatePlayingAudioOnly, snap.State)
	assert.Equal(t, uint64(2), snap.TurnID)
	assert.Equal(t, "/audio/2.mp3", r.reg.Current().Audio)
	assert.Empty(t, r.reg.Current().Video)
}

func TestController_StaleHandleEventIgnored(t *testing.T) {
	r := newRig(t)

	r.c.StartTurn(1, media.Refs{Audio: "/audio/1.mp3"})
	r.c.mu.Lock()
	old := r.c.current
	r.c.mu.Unlock()

	r.c.StartTurn(2, media.Refs{Video: "/video/2.mp4"})
	before := r.c.Snapshot()

	r.c.handleEvent(old, media.EventEnded)
	r.c.handleEvent(old, media.EventError)

	after := r.c.Snapshot()
	assert.Equal(t, StateLoadingResponse, after.State)
	assert.Equal(t, uint64(2), after.TurnID)
	assert.Equal(t, before.Version, after.Version)
}

func TestController_AtMostOneSubscribedElement(t *testing.T) {
	r := newRig(t)

	turns := []media.Refs{
		{Video: "/video/1.mp4"},
		{Audio: "/audio/2.mp3"},
		{Video: "/video/3.mp4", Audio: "/audio/3.mp3"},
		{},
		{Audio: "/audio/5.mp3"},
		{Video: "/video/6.mp4"},
	}
	for i, refs := range turns {
		r.c.StartTurn(uint64(i+1), refs)
		assert.LessOrEqual(t, r.subscribedElements(), 1, "turn %d", i+1)
		if i%2 == 0 {
			r.video.Fire(media.EventReady)
			assert.LessOrEqual(t, r.subscribedElements(), 1, "turn %d after ready", i+1)
		}
	}

	r.video.Fire(media.EventError)
	assert.LessOrEqual(t, r.subscribedElements(), 1)
}

func TestController_ConcurrentTurnsKeepOneSubscription(t *testing.T) {
	r := newRig(t)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if id%2 == 0 {
				r.c.StartTurn(uint64(id), media.Refs{Video: "/video/x.mp4"})
			} else {
				r.c.StartTurn(uint64(id), media.Refs{Audio: "/audio/x.mp3"})
			}
			r.video.Fire(media.EventEnded)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.subscribedElements(), 1)
}

func TestController_ReadyOutsideLoadingIgnored(t *testing.T) {
	r := newRig(t)
	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4"})
	r.video.Fire(media.EventReady)
	v := r.c.Snapshot().Version

	r.video.Fire(media.EventReady)
	assert.Equal(t, v, r.c.Snapshot().Version)
	assert.Eventually(t, func() bool { return r.video.Plays() == 1 }, time.Second, 5*time.Millisecond)
}

func TestController_EndedWhileLoadingReturnsIdle(t *testing.T) {
	r := newRig(t)
	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4"})

	r.video.Fire(media.EventEnded)
	assert.Equal(t, StateIdle, r.c.Snapshot().State)
	assert.Zero(t, r.video.Active())
}

func TestController_VideoErrorFallsBackToAudio(t *testing.T) {
	r := newRig(t)
	r.c.StartTurn(7, media.Refs{Video: "/video/7.mp4", Audio: "/audio/7.mp3"})

	r.video.Fire(media.EventError)

	snap := r.c.Snapshot()
	assert.Equal(t, StatePlayingAudioOnly, snap.State)
	assert.Equal(t, uint64(7), snap.TurnID)
	assert.Equal(t, "/audio/7.mp3", r.audio.LastLoad())
	assert.Zero(t, r.video.Active())
	assert.Equal(t, 1, r.subscribedElements())
	assert.Eventually(t, func() bool { return r.audio.Plays() == 1 }, time.Second, 5*time.Millisecond)
}

func TestController_VideoErrorWithoutAudioReturnsIdle(t *testing.T) {
	r := newRig(t)
	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4"})
	r.video.Fire(media.EventReady)

	r.video.Fire(media.EventError)
	assert.Equal(t, StateIdle, r.c.Snapshot().State)
	assert.Zero(t, r.subscribedElements())
}

func TestController_RetriesRejectedPlayOnce(t *testing.T) {
	r := newRig(t)
	r.audio.RejectPlays(1)

	r.c.StartTurn(1, media.Refs{Audio: "/audio/1.mp3"})
	assert.Eventually(t, func() bool { return r.audio.Plays() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatePlayingAudioOnly, r.c.Snapshot().State)
}

func TestController_GivesUpAfterRetryBudget(t *testing.T) {
	r := newRig(t)
	r.video.RejectPlays(10)

	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4"})
	r.video.Fire(media.EventReady)

	assert.Eventually(t, func() bool { return r.video.Plays() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return r.video.Plays() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, StatePlayingResponseVideo, r.c.Snapshot().State, "rejection is tolerated")
}

func TestController_RetryStopsWhenTurnSuperseded(t *testing.T) {
	r := newRig(t)
	r.c.SetRetryPolicy(RetryPolicy{MaxAttempts: 5, Delay: 50 * time.Millisecond})
	r.audio.RejectPlays(5)

	r.c.StartTurn(1, media.Refs{Audio: "/audio/1.mp3"})
	assert.Eventually(t, func() bool { return r.audio.Plays() == 1 }, time.Second, 5*time.Millisecond)
	r.c.StartTurn(2, media.Refs{})

	assert.Never(t, func() bool { return r.audio.Plays() > 1 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestController_Interrupt(t *testing.T) {
	r := newRig(t)
	assert.False(t, r.c.Interrupt())

	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4"})
	r.video.Fire(media.EventReady)

	assert.True(t, r.c.Interrupt())
	assert.Equal(t, StateIdle, r.c.Snapshot().State)
	assert.Zero(t, r.video.Active())
	assert.GreaterOrEqual(t, r.video.Stops(), 1)
}

func TestController_NotifiesWithIncreasingVersion(t *testing.T) {
	eb := bus.NewEventBus()
	var mu sync.Mutex
	var states []State
	var versions []uint64

	busEvents := make(chan bus.Event, 16)
	eb.Subscribe(bus.EventTypePlaybackChanged, func(e bus.Event) { busEvents <- e })

	r := newRig(t)
	r.c.bus = eb
	r.c.SetStateHandler(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
		versions = append(versions, s.Version)
	})

	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4"})
	r.video.Fire(media.EventReady)
	r.video.Fire(media.EventEnded)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateLoadingResponse, StatePlayingResponseVideo, StateIdle}, states)
	require.Len(t, versions, 3)
	assert.Less(t, versions[0], versions[1])
	assert.Less(t, versions[1], versions[2])

	select {
	case e := <-busEvents:
		assert.Contains(t, e.Data, "state")
	case <-time.After(time.Second):
		t.Fatal("no playback event on the bus")
	}
}

func TestController_CloseDetachesAndIgnoresLaterTurns(t *testing.T) {
	r := newRig(t)
	r.c.StartTurn(1, media.Refs{Video: "/video/1.mp4"})

	r.c.Close()
	assert.Zero(t, r.subscribedElements())

	r.c.StartTurn(2, media.Refs{Audio: "/audio/2.mp3"})
	assert.Zero(t, r.subscribedElements())
	assert.ErrorIs(t, r.c.Start(context.Background()), ErrClosed)
}
