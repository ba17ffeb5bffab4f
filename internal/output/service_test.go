package output

import (
	"context"
	"testing"
	"time"

	"flux-gateway/internal"
	"flux-gateway/internal/flux"
	"flux-gateway/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWatcher struct {
	events  []flux.Event
	openErr error
	hold    bool

	cred *flux.Credential
}

func (f *fakeWatcher) EventWatch(ctx context.Context, jobID, path string, cred *flux.Credential) (<-chan flux.Event, error) {
	f.cred = cred
	if f.openErr != nil {
		return nil, f.openErr
	}
	ch := make(chan flux.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	if f.hold {
		// The real watch closes its channel when the context ends.
		go func() {
			<-ctx.Done()
			close(ch)
		}()
	} else {
		close(ch)
	}
	return ch, nil
}

type fakeResolver struct {
	account identity.Account
	err     error
}

func (f *fakeResolver) Lookup(ctx context.Context, username string) (identity.Account, error) {
	if f.err != nil {
		return identity.Account{}, f.err
	}
	return f.account, nil
}

func dataEvent(data string) flux.Event {
	return flux.Event{Name: "data", Context: flux.EventContext{Stream: "stdout", Data: data}}
}

func TestRead(t *testing.T) {
	t.Run("collects lines until the feed closes", func(t *testing.T) {
		watcher := &fakeWatcher{events: []flux.Event{dataEvent("one\n"), dataEvent("two\n")}}
		service := NewService(zap.NewNop(), watcher, &fakeResolver{}, false)

		lines, err := service.Read(t.Context(), "1000", "", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"one\n", "two\n"}, lines)
	})

	t.Run("skips events without data", func(t *testing.T) {
		watcher := &fakeWatcher{events: []flux.Event{
			{Name: "redirect"},
			dataEvent("line\n"),
		}}
		service := NewService(zap.NewNop(), watcher, &fakeResolver{}, false)

		lines, err := service.Read(t.Context(), "1000", "", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"line\n"}, lines)
	})

	t.Run("an unopenable feed is an empty result", func(t *testing.T) {
		watcher := &fakeWatcher{openErr: assert.AnError}
		service := NewService(zap.NewNop(), watcher, &fakeResolver{}, false)

		lines, err := service.Read(t.Context(), "1000", "", 0)
		require.NoError(t, err)
		assert.Nil(t, lines)
	})

	t.Run("the delay bounds a feed that stays open", func(t *testing.T) {
		watcher := &fakeWatcher{events: []flux.Event{dataEvent("partial\n")}, hold: true}
		service := NewService(zap.NewNop(), watcher, &fakeResolver{}, false)

		start := time.Now()
		lines, err := service.Read(t.Context(), "1000", "", 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, []string{"partial\n"}, lines)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("impersonated reads resolve the owner credential", func(t *testing.T) {
		watcher := &fakeWatcher{}
		resolver := &fakeResolver{account: identity.Account{Name: "alice", UID: 1001, GID: 1001}}
		service := NewService(zap.NewNop(), watcher, resolver, true)

		_, err := service.Read(t.Context(), "1000", "alice", 0)
		require.NoError(t, err)
		require.NotNil(t, watcher.cred)
		assert.Equal(t, uint32(1001), watcher.cred.UID)
	})

	t.Run("an unknown owner fails the read", func(t *testing.T) {
		service := NewService(zap.NewNop(), &fakeWatcher{}, &fakeResolver{err: internal.ErrUnknownUser}, true)

		_, err := service.Read(t.Context(), "1000", "mallory", 0)
		assert.ErrorIs(t, err, internal.ErrUnknownUser)
	})
}

func TestStream(t *testing.T) {
	t.Run("forwards lines and closes with the feed", func(t *testing.T) {
		watcher := &fakeWatcher{events: []flux.Event{dataEvent("a\n"), dataEvent("b\n")}}
		service := NewService(zap.NewNop(), watcher, &fakeResolver{}, false)

		lines, err := service.Stream(t.Context(), "1000", "")
		require.NoError(t, err)

		var got []string
		for line := range lines {
			got = append(got, line)
		}
		assert.Equal(t, []string{"a\n", "b\n"}, got)
	})

	t.Run("an unopenable feed is an error", func(t *testing.T) {
		service := NewService(zap.NewNop(), &fakeWatcher{openErr: assert.AnError}, &fakeResolver{}, false)

		_, err := service.Stream(t.Context(), "1000", "")
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("cancellation closes the stream", func(t *testing.T) {
		watcher := &fakeWatcher{events: []flux.Event{dataEvent("a\n")}, hold: true}
		service := NewService(zap.NewNop(), watcher, &fakeResolver{}, false)

		ctx, cancel := context.WithCancel(t.Context())
		lines, err := service.Stream(ctx, "1000", "")
		require.NoError(t, err)

		<-lines
		cancel()

		select {
		case _, open := <-lines:
			assert.False(t, open)
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not close after cancellation")
		}
	})
}
