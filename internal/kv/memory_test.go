package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSetNXRefusesWhenKeyPresent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock:task-1", []byte("worker-a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = s.SetNX(ctx, "lock:task-1", []byte("worker-b"), time.Minute)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if ok {
		t.Fatal("expected second SetNX against a held key to fail")
	}

	val, found, err := s.Get(ctx, "lock:task-1")
	if err != nil || !found {
		t.Fatalf("expected the original holder's value to survive, found=%v err=%v", found, err)
	}
	if string(val) != "worker-a" {
		t.Fatalf("expected worker-a to still hold the key, got %s", val)
	}
}

func TestMemoryStoreSetNXSucceedsAfterExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if ok, err := s.SetNX(ctx, "lock:task-1", []byte("worker-a"), time.Millisecond); err != nil || !ok {
		t.Fatalf("expected first SetNX to succeed, got ok=%v err=%v", ok, err)
	}
	time.Sleep(5 * time.Millisecond)

	ok, err := s.SetNX(ctx, "lock:task-1", []byte("worker-b"), time.Minute)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if !ok {
		t.Fatal("expected SetNX to succeed once the prior holder's TTL has expired")
	}
}

func TestMemoryStoreDeleteRemovesKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Set(ctx, "a", []byte("1"), 0)
	s.Set(ctx, "b", []byte("2"), 0)

	if err := s.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, found, _ := s.Get(ctx, "a"); found {
		t.Fatal("expected a to be deleted")
	}
	if _, found, _ := s.Get(ctx, "b"); found {
		t.Fatal("expected b to be deleted")
	}
}

func TestMemoryStoreScanMatchesPatternAndPaginatesByCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, k := range []string{"task:1", "task:2", "task:3", "other:1"} {
		s.Set(ctx, k, []byte("v"), 0)
	}

	keys, cursor, err := s.Scan(ctx, 0, "task:*", 2)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected a page of 2 keys, got %d (%v)", len(keys), keys)
	}
	if cursor == 0 {
		t.Fatal("expected a non-zero cursor since more matching keys remain")
	}

	rest, nextCursor, err := s.Scan(ctx, cursor, "task:*", 2)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected the final page to hold the 1 remaining key, got %d", len(rest))
	}
	if nextCursor != 0 {
		t.Fatalf("expected cursor 0 once the scan is complete, got %d", nextCursor)
	}
}

func TestMemoryStorePublishDeliversToActiveSubscribers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	msgs, cancel, err := s.Subscribe(ctx, "ticks")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	if err := s.Publish(ctx, "ticks", []byte("tick-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-msgs:
		if string(got) != "tick-1" {
			t.Fatalf("expected tick-1, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published message")
	}
}

func TestMemoryStoreSubscribeCancelStopsDelivery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	msgs, cancel, err := s.Subscribe(ctx, "ticks")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	if err := s.Publish(ctx, "ticks", []byte("tick-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, open := <-msgs; open {
		t.Fatal("expected the channel to be closed after cancel")
	}
}
