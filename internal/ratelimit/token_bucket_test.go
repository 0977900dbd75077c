package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("expected allow on burst token %d", i)
		}
	}
	if tb.Allow() {
		t.Fatal("expected deny after burst exhausted")
	}
}

func TestRefillOverTime(t *testing.T) {
	tb := NewTokenBucket(1, 100) // 100 tokens/sec for a fast test
	if !tb.Allow() {
		t.Fatal("expected initial token")
	}
	if tb.Allow() {
		t.Fatal("expected empty bucket")
	}
	time.Sleep(30 * time.Millisecond)
	if !tb.Allow() {
		t.Fatal("expected refilled token")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	tb := NewTokenBucket(1, 0.001) // effectively never refills
	if !tb.Allow() {
		t.Fatal("expected initial token")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitReturnsWhenTokenFree(t *testing.T) {
	tb := NewTokenBucket(1, 50)
	if !tb.Allow() {
		t.Fatal("expected initial token")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
