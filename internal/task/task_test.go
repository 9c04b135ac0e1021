package task

import (
	"errors"
	"testing"
	"time"
)

func TestStartStopFIFO(t *testing.T) {
	var order []int
	fn := func(ctx any, elm any) (int, error) {
		order = append(order, elm.(int))
		return elm.(int), nil
	}

	tk := New(fn, nil, false)
	tok1, _ := tk.Enqueue(1)
	tok2, _ := tk.Enqueue(2)
	tk.Start()

	r1, err := tk.Sync(tok1)
	if err != nil || r1.Value != 1 {
		t.Fatalf("unexpected result 1: %+v err=%v", r1, err)
	}
	r2, err := tk.Sync(tok2)
	if err != nil || r2.Value != 2 {
		t.Fatalf("unexpected result 2: %+v err=%v", r2, err)
	}

	tk.Stop()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected FIFO order [1 2], got %v", order)
	}
}

func TestCancelPending(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	fn := func(ctx any, elm any) (int, error) {
		if elm.(int) == 1 {
			close(started)
			<-block
		}
		return elm.(int), nil
	}

	tk := New(fn, nil, false)
	tok1, _ := tk.Enqueue(1)
	tok2, _ := tk.Enqueue(2)
	tk.Start()
	defer tk.Destroy()

	<-started
	if err := tk.Cancel(tok2); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(block)

	r1, err := tk.Sync(tok1)
	if err != nil || r1.Value != 1 {
		t.Fatalf("unexpected result for running item: %+v err=%v", r1, err)
	}

	r2, err := tk.Sync(tok2)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %+v err=%v", r2, err)
	}
}

func TestSyncTimeout(t *testing.T) {
	block := make(chan struct{})
	fn := func(ctx any, elm any) (int, error) {
		<-block
		return 0, nil
	}

	tk := New(fn, nil, false)
	tok, _ := tk.Enqueue(1)
	tk.Start()
	defer func() {
		close(block)
		tk.Destroy()
	}()

	_, err := tk.SyncTimeout(tok, 20)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestTryResultDoesNotCancelPending(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx any, elm any) (int, error) {
		close(started)
		<-release
		return elm.(int), nil
	}

	tk := New(fn, nil, false)
	tok, _ := tk.Enqueue(1)
	tk.Start()
	defer tk.Destroy()

	<-started

	if _, ok := tk.TryResult(tok); ok {
		t.Fatal("expected TryResult to report not-done while fn is still running")
	}

	close(release)

	r, err := tk.Sync(tok)
	if err != nil || r.Value != 1 {
		t.Fatalf("expected the item to complete normally after TryResult polled it, got %+v err=%v", r, err)
	}
}

func TestFlushMarksInterrupted(t *testing.T) {
	fn := func(ctx any, elm any) (int, error) { return 0, nil }
	tk := New(fn, nil, false)
	tok, _ := tk.Enqueue(1)
	tk.Flush()

	r, err := tk.Sync(tok)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %+v err=%v", r, err)
	}
}

func TestInlineDrainsOnStart(t *testing.T) {
	var ran bool
	fn := func(ctx any, elm any) (int, error) {
		ran = true
		return 0, nil
	}
	tk := New(fn, nil, true)
	tok, _ := tk.Enqueue(1)
	tk.Start()
	if !ran {
		t.Fatal("inline task should drain synchronously on Start")
	}
	if _, err := tk.Sync(tok); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func TestAutoclearReleasesToken(t *testing.T) {
	done := make(chan struct{})
	fn := func(ctx any, elm any) (int, error) {
		close(done)
		return 0, nil
	}
	tk := New(fn, nil, false)
	tok, _ := tk.EnqueueAutoclear(1)
	tk.Start()
	defer tk.Destroy()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("autoclear item never ran")
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := tk.Sync(tok); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken after autoclear, got %v", err)
	}
}
