package status

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for update")
		return Update{}
	}
}

func TestBroadcasterDelivers(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Update{Name: "web", Status: Connecting()})
	u := recv(t, ch)
	if u.Name != "web" || u.Status.State != StateConnecting {
		t.Fatalf("got %+v", u)
	}
}

func TestBroadcasterNoReplay(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()
	b.Publish(Update{Name: "web", Status: Connecting()})

	ch, cancel := b.Subscribe()
	defer cancel()
	select {
	case u := <-ch:
		t.Fatalf("replayed pre-subscription update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterDropsOldest(t *testing.T) {
	b := NewBroadcaster(2)
	defer b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()

	for _, name := range []string{"a", "b", "c"} {
		b.Publish(Update{Name: name, Status: Connecting()})
	}
	if u := recv(t, ch); u.Name != "b" {
		t.Fatalf("first queued = %q, want b (oldest dropped)", u.Name)
	}
	if u := recv(t, ch); u.Name != "c" {
		t.Fatalf("second queued = %q, want c", u.Name)
	}
}

func TestBroadcasterPublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster(1)
	defer b.Close()
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// No reader: every publish past the first must evict, not block.
		for i := 0; i < 1000; i++ {
			b.Publish(Update{Name: "noisy", Status: Connecting()})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestBroadcasterCancel(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()
	ch, cancel := b.Subscribe()
	if b.Len() != 1 {
		t.Fatalf("len = %d, want 1", b.Len())
	}
	cancel()
	cancel() // safe to repeat
	if b.Len() != 0 {
		t.Fatalf("len after cancel = %d, want 0", b.Len())
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel open after cancel")
	}
	b.Publish(Update{Name: "web", Status: Connecting()})
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster(4)
	ch, _ := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel open after close")
	}
	b.Publish(Update{Name: "web", Status: Connecting()}) // no-op
	ch2, cancel := b.Subscribe()
	defer cancel()
	if _, ok := <-ch2; ok {
		t.Fatalf("subscription after close yielded an update")
	}
	b.Close() // idempotent
}
