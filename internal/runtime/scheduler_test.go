package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunDrainsReadyQueue(t *testing.T) {
	sched := NewScheduler(context.Background())
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		sched.enqueue(func() { order = append(order, i) })
	}
	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("order = %v, want [0 1 2]", order)
	}
}

func TestSchedulerWaitsForBackgroundWork(t *testing.T) {
	sched := NewScheduler(context.Background())
	var done int32
	sched.Go(func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
		sched.enqueue(func() {})
	})
	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&done) != 1 {
		t.Fatal("expected Run to block until background Go work finished")
	}
}

func TestSchedulerCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sched := NewScheduler(ctx)
	sched.Go(func() {
		time.Sleep(50 * time.Millisecond)
	})
	cancel()
	err := sched.Run()
	if err == nil {
		t.Fatal("expected Run to return the cancellation error")
	}
}
