package notify

import (
	"testing"
	"time"

	"github.com/poputchik/chat-server/internal/domain"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageCreatedReachesAllMembers(t *testing.T) {
	n := New(4)

	alice, cancelAlice := n.Subscribe(1)
	defer cancelAlice()
	bob, cancelBob := n.Subscribe(2)
	defer cancelBob()
	carol, cancelCarol := n.Subscribe(3)
	defer cancelCarol()

	msg := domain.RestoreMessage(10, 5, 1, "hello", 1, time.Now().UTC(), []int64{1})
	n.MessageCreated(msg, []int64{1, 2})

	for _, ch := range []<-chan Event{alice, bob} {
		ev := recvEvent(t, ch)
		if ev.Kind != EventMessageCreated {
			t.Fatalf("kind = %q, want %q", ev.Kind, EventMessageCreated)
		}
		if ev.MessageID != 10 || ev.ChatID != 5 || ev.AuthorID != 1 || ev.Content != "hello" {
			t.Fatalf("bad event payload: %+v", ev)
		}
		if ev.ID == "" {
			t.Fatal("event id is empty")
		}
	}

	// carol is not a member of this chat
	assertNoEvent(t, carol)
}

func TestMultipleSubscriptionsPerUser(t *testing.T) {
	n := New(4)

	first, cancelFirst := n.Subscribe(1)
	defer cancelFirst()
	second, cancelSecond := n.Subscribe(1)
	defer cancelSecond()

	n.Publish(1, Event{ID: "e1", Kind: EventMessageCreated})

	if ev := recvEvent(t, first); ev.ID != "e1" {
		t.Fatalf("first connection got %q", ev.ID)
	}
	if ev := recvEvent(t, second); ev.ID != "e1" {
		t.Fatalf("second connection got %q", ev.ID)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	n := New(1)

	slow, cancelSlow := n.Subscribe(1)
	defer cancelSlow()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Publish(1, Event{ID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// the buffered event is still there; the rest were dropped
	if ev := recvEvent(t, slow); ev.ID != "flood" {
		t.Fatalf("got %q", ev.ID)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := New(4)

	ch, cancel := n.Subscribe(1)
	cancel()

	n.Publish(1, Event{ID: "late"})
	assertNoEvent(t, ch)
}
