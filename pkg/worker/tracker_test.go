package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := newJobTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("job_1", nil)
	u2 := tr.Register("job_2", nil)
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("Wait returned true with a job still registered")
	}

	u2()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	if ok := tr.Wait(ctx2); !ok {
		t.Fatalf("expected Wait to return true")
	}
}

func TestJobTracker_ReRegisterReplaces(t *testing.T) {
	tr := newJobTracker()
	tr.Register("job_1", nil)
	u := tr.Register("job_1", nil)
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	u()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("replaced registration still counted by Wait")
	}
}

func TestJobTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := newJobTracker()
	var c1, c2 atomic.Int64
	tr.Register("job_1", func() { c1.Add(1) })
	tr.Register("job_2", func() { c2.Add(1) })

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}
