package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversToMatchingSubscriberOnly(t *testing.T) {
	p := New(4, nil)
	var mu sync.Mutex
	var got []Type

	p.Subscribe(TypeNodeStarted, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	p.Publish(Event{Type: TypeNodeStarted, NodeID: "n1"})
	p.Publish(Event{Type: TypeNodeCompleted, NodeID: "n1"})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != TypeNodeStarted {
		t.Fatalf("expected exactly one node_started delivery, got %v", got)
	}
}

func TestPublishDropsOnFullQueueWithoutBlocking(t *testing.T) {
	p := New(1, nil)
	block := make(chan struct{})
	p.Subscribe(TypeNodeStarted, func(ev Event) {
		<-block
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish(Event{Type: TypeNodeStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked despite bounded queue overflow")
	}
	close(block)
}
