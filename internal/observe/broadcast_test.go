package observe

import "testing"

func TestBroadcasterConflates(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(0)
	ch, cancel := b.Subscribe()
	defer cancel()

	if v := <-ch; v != 0 {
		t.Fatalf("initial = %d", v)
	}

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}
	if v := <-ch; v != 5 {
		t.Fatalf("latest = %d, want 5", v)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
	if b.Latest() != 5 {
		t.Fatalf("Latest = %d", b.Latest())
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster("a")
	ch, cancel := b.Subscribe()
	<-ch
	cancel()
	cancel()

	b.Publish("b")
	select {
	case v := <-ch:
		t.Fatalf("detached subscriber got %q", v)
	default:
	}
}
