package runtime

import (
	"context"
	"testing"
)

func TestLockManagerSerializesSameKey(t *testing.T) {
	sched := NewScheduler(context.Background())
	lm := NewLockManager()
	var order []int

	lm.Acquire(sched, "result.items::push", func(release func()) {
		order = append(order, 1)
		release()
	})
	lm.Acquire(sched, "result.items::push", func(release func()) {
		order = append(order, 2)
		release()
	})

	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2] (FIFO acquire order)", order)
	}
}

func TestLockManagerDifferentKeysDoNotBlock(t *testing.T) {
	sched := NewScheduler(context.Background())
	lm := NewLockManager()
	var ran int

	lm.Acquire(sched, "a::push", func(release func()) { ran++; release() })
	lm.Acquire(sched, "b::push", func(release func()) { ran++; release() })

	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran != 2 {
		t.Fatalf("ran = %d, want 2", ran)
	}
}
