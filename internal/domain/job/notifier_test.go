package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWaiter struct {
	calls atomic.Int64
	err   error
	delay time.Duration
}

func (w *stubWaiter) WaitForNotification(ctx context.Context) error {
	w.calls.Add(1)
	if w.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.delay):
		}
	}
	return w.err
}

func TestNewNotifier_RequiresWaiter(t *testing.T) {
	_, err := NewNotifier(NotifierOptions{})
	assert.ErrorIs(t, err, ErrWaiterRequired)
}

func TestNotifier_SubscribeReceivesBroadcast(t *testing.T) {
	waiter := &stubWaiter{delay: 5 * time.Millisecond}
	n, err := NewNotifier(NotifierOptions{Waiter: waiter, WaitWindow: 50 * time.Millisecond, Backoff: time.Millisecond})
	require.NoError(t, err)
	defer n.StopAll()

	unsub, ch := n.Subscribe()
	defer unsub()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}
	assert.GreaterOrEqual(t, waiter.calls.Load(), int64(1))
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	waiter := &stubWaiter{delay: 10 * time.Millisecond}
	n, err := NewNotifier(NotifierOptions{Waiter: waiter, WaitWindow: 50 * time.Millisecond, Backoff: time.Millisecond})
	require.NoError(t, err)
	defer n.StopAll()

	unsub, ch := n.Subscribe()
	unsub()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed after unsubscribe")
		}
	}
}

func TestNotifier_StopAllClosesSubscribers(t *testing.T) {
	waiter := &stubWaiter{delay: 10 * time.Millisecond}
	n, err := NewNotifier(NotifierOptions{Waiter: waiter, WaitWindow: 50 * time.Millisecond, Backoff: time.Millisecond})
	require.NoError(t, err)

	_, ch1 := n.Subscribe()
	_, ch2 := n.Subscribe()
	n.StopAll()

	assertClosed := func(ch <-chan struct{}) {
		deadline := time.After(time.Second)
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("channel was not closed by StopAll")
			}
		}
	}
	assertClosed(ch1)
	assertClosed(ch2)
}

func TestLeasePolicy(t *testing.T) {
	t.Run("rejects non-positive default", func(t *testing.T) {
		_, err := NewLeasePolicy(0)
		assert.ErrorIs(t, err, ErrInvalidDefaultLease)
	})

	t.Run("resolves explicit requests to whole seconds", func(t *testing.T) {
		p, err := NewLeasePolicy(2 * time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 90, p.Resolve(90*time.Second))
		assert.Equal(t, 1, p.Resolve(200*time.Millisecond))
	})

	t.Run("falls back to default for zero request", func(t *testing.T) {
		p, err := NewLeasePolicy(2 * time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 120, p.Resolve(0))
		assert.Equal(t, 120, p.Resolve(-time.Second))
	})
}
