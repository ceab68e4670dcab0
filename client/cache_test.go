package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/services"
	"go.uber.org/zap"
)

// fakeFetcher answers FetchProfile through fn and counts calls
type fakeFetcher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, token string) (*models.Profile, error)
}

func (f *fakeFetcher) FetchProfile(ctx context.Context, token string) (*models.Profile, error) {
	f.calls.Add(1)
	return f.fn(ctx, token)
}

func profileFor(role models.Role) func(context.Context, string) (*models.Profile, error) {
	return func(_ context.Context, token string) (*models.Profile, error) {
		return &models.Profile{ID: token, Email: "ana@upb.edu.bo", Role: role}, nil
	}
}

func newTestCache(fetcher ProfileFetcher) *ProfileCache {
	return NewProfileCache(NewTokenStore(NewMemoryStore()), fetcher, "estudiante", zap.NewNop())
}

func TestProfileCache_GetProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("no token", func(t *testing.T) {
		f := &fakeFetcher{fn: profileFor("Director")}
		c := newTestCache(f)

		p, err := c.GetProfile(ctx)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Zero(t, f.calls.Load())
	})

	t.Run("fetches once and caches", func(t *testing.T) {
		f := &fakeFetcher{fn: profileFor("Director")}
		c := newTestCache(f)
		c.SetToken("t1")

		for i := 0; i < 3; i++ {
			p, err := c.GetProfile(ctx)
			require.NoError(t, err)
			require.NotNil(t, p)
		}
		assert.Equal(t, int32(1), f.calls.Load())

		snap := c.Snapshot()
		assert.Equal(t, "t1", snap.Token)
		assert.NotNil(t, snap.Profile)
		assert.Equal(t, models.Role("Director"), snap.Role)
	})

	t.Run("401 clears token and cache", func(t *testing.T) {
		f := &fakeFetcher{fn: func(context.Context, string) (*models.Profile, error) {
			return nil, services.ErrUnauthenticated
		}}
		c := newTestCache(f)
		c.SetToken("revoked")

		p, err := c.GetProfile(ctx)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Equal(t, CachedSession{}, c.Snapshot())
	})

	t.Run("other error degrades role without caching", func(t *testing.T) {
		fail := true
		f := &fakeFetcher{fn: func(_ context.Context, token string) (*models.Profile, error) {
			if fail {
				return nil, services.ErrUnavailable
			}
			return &models.Profile{ID: token, Role: "Director"}, nil
		}}
		c := newTestCache(f)
		c.SetToken("t1")

		role, err := c.Role(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Role("estudiante"), role)
		assert.Empty(t, c.Snapshot().Role)
		assert.Equal(t, "t1", c.Snapshot().Token)

		fail = false
		role, err = c.Role(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Role("Director"), role)
		assert.Equal(t, int32(2), f.calls.Load())
	})

	t.Run("empty role uses default", func(t *testing.T) {
		c := newTestCache(&fakeFetcher{fn: profileFor("")})
		c.SetToken("t1")

		role, err := c.Role(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Role("estudiante"), role)
		assert.Equal(t, models.Role("estudiante"), c.Snapshot().Role)
	})

	t.Run("cancelled context is reported", func(t *testing.T) {
		f := &fakeFetcher{fn: profileFor("Director")}
		c := newTestCache(f)
		c.SetToken("t1")

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Role(cctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, f.calls.Load())
	})

	t.Run("nil profile without error degrades", func(t *testing.T) {
		c := newTestCache(&fakeFetcher{fn: func(context.Context, string) (*models.Profile, error) {
			return nil, nil
		}})
		c.SetToken("t1")

		role, err := c.Role(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Role("estudiante"), role)
		assert.Nil(t, c.Snapshot().Profile)
	})
}

func TestProfileCache_InvalidateAndClear(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(&fakeFetcher{fn: profileFor("Director")})
	c.SetToken("t1")
	_, err := c.GetProfile(ctx)
	require.NoError(t, err)

	c.Invalidate()
	snap := c.Snapshot()
	assert.Nil(t, snap.Profile)
	assert.Empty(t, snap.Role)
	assert.Equal(t, "t1", snap.Token)

	_, err = c.GetProfile(ctx)
	require.NoError(t, err)
	c.Clear()
	assert.Equal(t, CachedSession{}, c.Snapshot())
}

func TestProfileCache_ConcurrentCallsShareFetch(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{fn: func(_ context.Context, token string) (*models.Profile, error) {
		<-release
		return &models.Profile{ID: token, Role: "Director"}, nil
	}}
	c := newTestCache(f)
	c.SetToken("t1")

	const callers = 10
	var wg sync.WaitGroup
	profiles := make([]*models.Profile, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], _ = c.GetProfile(context.Background())
		}(i)
	}

	assert.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, p := range profiles {
		require.NotNil(t, p)
		assert.Equal(t, "t1", p.ID)
	}
}

func TestProfileCache_CancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetchErr := make(chan error, 1)
	f := &fakeFetcher{fn: func(ctx context.Context, token string) (*models.Profile, error) {
		close(started)
		<-release
		fetchErr <- ctx.Err()
		_, hasDeadline := ctx.Deadline()
		if !hasDeadline {
			return nil, services.ErrInternal
		}
		return &models.Profile{ID: token, Role: "Director"}, nil
	}}
	c := newTestCache(f)
	c.SetToken("t1")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetProfile(firstCtx)
		firstErr <- err
	}()
	<-started

	joined := make(chan *models.Profile, 1)
	go func() {
		p, _ := c.GetProfile(context.Background())
		joined <- p
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(release)

	p := <-joined
	require.NotNil(t, p)
	assert.Equal(t, "t1", p.ID)
	assert.NoError(t, <-fetchErr)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, models.Role("Director"), c.Snapshot().Role)
}

func TestProfileCache_StaleFetchNeverCommits(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := &fakeFetcher{fn: func(_ context.Context, token string) (*models.Profile, error) {
		if token == "old" {
			close(started)
			<-release
			return &models.Profile{ID: token, Role: "Director"}, nil
		}
		return &models.Profile{ID: token, Role: "estudiante"}, nil
	}}
	c := newTestCache(f)
	c.SetToken("old")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetProfile(context.Background())
	}()

	<-started
	c.SetToken("new")
	close(release)
	<-done

	assert.Nil(t, c.Snapshot().Profile)

	role, err := c.Role(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Role("estudiante"), role)
	assert.Equal(t, "new", c.Snapshot().Profile.ID)
}

func TestProfileCache_StaleUnauthorizedKeepsNewToken(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := newTestCache(&fakeFetcher{fn: func(context.Context, string) (*models.Profile, error) {
		close(started)
		<-release
		return nil, services.ErrUnauthenticated
	}})
	c.SetToken("old")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetProfile(context.Background())
	}()

	<-started
	c.SetToken("new")
	close(release)
	<-done

	assert.Equal(t, "new", c.Snapshot().Token)
}

func TestProfileCache_FollowsAuthEvents(t *testing.T) {
	events := NewAuthEvents(16)
	defer events.Close()

	c := newTestCache(&fakeFetcher{fn: profileFor("Director")})
	require.NoError(t, c.Subscribe(events))

	events.Publish(AuthStateChange{Event: EventSignedIn, Session: &Session{AccessToken: "t1"}})
	require.Eventually(t, func() bool { return c.Token() == "t1" }, time.Second, time.Millisecond)

	_, err := c.GetProfile(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Snapshot().Profile)

	events.Publish(AuthStateChange{Event: EventTokenRefreshed, Session: &Session{AccessToken: "t2"}})
	require.Eventually(t, func() bool { return c.Token() == "t2" }, time.Second, time.Millisecond)
	assert.Nil(t, c.Snapshot().Profile)

	events.Publish(AuthStateChange{Event: EventSignedOut})
	require.Eventually(t, func() bool { return c.Token() == "" }, time.Second, time.Millisecond)
	assert.Equal(t, CachedSession{}, c.Snapshot())
}
