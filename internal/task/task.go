// Package task implements the generic producer/consumer worker on which
// asynchronous block I/O and cancellation are built (spec §4.1).
package task

import (
	"container/list"
	"errors"
	"sync"
)

// Result is the outcome of a single work item.
type Result struct {
	Value int
	Err   error
}

// Errors surfaced through Sync/Cancel/Flush.
var (
	ErrCancelled     = errors.New("task: cancelled")
	ErrInterrupted   = errors.New("task: interrupted by flush")
	ErrTimeout       = errors.New("task: sync timed out")
	ErrDuplicate     = errors.New("task: token already enqueued")
	ErrUnknownToken  = errors.New("task: unknown token")
)

// Fn is the work function executed by the worker for every enqueued item.
// ctx is the constant context supplied at Create time; elm is the
// per-item element supplied at Enqueue time.
type Fn func(ctx any, elm any) (int, error)

// Token identifies a single enqueued item.
type Token uint64

type item struct {
	token     Token
	elm       any
	autoclear bool

	mu   sync.Mutex
	cond *sync.Cond
	done bool
	res  Result
}

func newItem(tok Token, elm any, autoclear bool) *item {
	it := &item{token: tok, elm: elm, autoclear: autoclear}
	it.cond = sync.NewCond(&it.mu)
	return it
}

func (it *item) complete(res Result) {
	it.mu.Lock()
	if it.done {
		it.mu.Unlock()
		return
	}
	it.done = true
	it.res = res
	it.cond.Broadcast()
	it.mu.Unlock()
}

// State is the lifecycle state of a Task.
type State int

const (
	Stopped State = iota
	Running
)

// Task owns one worker draining an internal ordered list of items.
// A build-time-equivalent "no-thread" variant is selected by passing
// Inline: true to New — the worker then runs cooperatively inside
// Enqueue/Start rather than on a background goroutine (spec §5,
// "no-thread variant").
type Task struct {
	fn     Fn
	ctx    any
	inline bool

	mu       sync.Mutex
	state    State
	pending  *list.List // of *item
	byToken  map[Token]*list.Element
	nextTok  Token
	wake     chan struct{}
	stopCh   chan struct{}
	stopped  chan struct{}
	started  bool
}

// New creates a task in the Stopped state. The worker goroutine (or, in
// inline mode, the cooperative drain loop) is not started until Start.
func New(fn Fn, ctx any, inline bool) *Task {
	t := &Task{
		fn:      fn,
		ctx:     ctx,
		inline:  inline,
		pending: list.New(),
		byToken: make(map[Token]*list.Element),
		wake:    make(chan struct{}, 1),
	}
	return t
}

// Start transitions the task to Running. For the threaded variant the
// worker goroutine is (re)launched; for the inline variant, Start drains
// every already-queued item synchronously, and items enqueued later are
// drained inside Enqueue.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Running {
		return
	}
	t.state = Running
	if t.inline {
		t.drainLocked()
		return
	}
	if !t.started {
		t.started = true
		t.stopCh = make(chan struct{})
		t.stopped = make(chan struct{})
		go t.loop(t.stopCh, t.stopped)
	} else {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

// Stop transitions to Stopped and blocks until the worker confirms
// idleness. Items already enqueued remain for a subsequent Start.
func (t *Task) Stop() {
	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		return
	}
	t.state = Stopped
	stopCh := t.stopCh
	stopped := t.stopped
	started := t.started
	t.mu.Unlock()

	if t.inline || !started {
		return
	}
	close(stopCh)
	<-stopped

	t.mu.Lock()
	t.started = false
	t.mu.Unlock()
}

// Enqueue appends an item and returns its token.
func (t *Task) Enqueue(elm any) (Token, error) {
	return t.enqueue(elm, false)
}

// EnqueueAutoclear appends an item whose token is released automatically
// on completion; Sync must not be called for an autoclear token.
func (t *Task) EnqueueAutoclear(elm any) (Token, error) {
	return t.enqueue(elm, true)
}

func (t *Task) enqueue(elm any, autoclear bool) (Token, error) {
	t.mu.Lock()
	t.nextTok++
	tok := t.nextTok
	it := newItem(tok, elm, autoclear)
	el := t.pending.PushBack(it)
	t.byToken[tok] = el
	running := t.state == Running
	inline := t.inline
	t.mu.Unlock()

	if running {
		if inline {
			t.mu.Lock()
			t.drainLocked()
			t.mu.Unlock()
		} else {
			select {
			case t.wake <- struct{}{}:
			default:
			}
		}
	}
	return tok, nil
}

// Sync waits for completion of token, cancelling it on timeoutMs > 0
// expiry. It always releases the token bookkeeping on return.
// timeoutMs == 0 means wait indefinitely.
func (t *Task) Sync(tok Token) (Result, error) {
	return t.SyncTimeout(tok, 0)
}

// SyncTimeout is Sync with an explicit timeout in milliseconds.
func (t *Task) SyncTimeout(tok Token, timeoutMs int) (Result, error) {
	t.mu.Lock()
	el, ok := t.byToken[tok]
	t.mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownToken
	}
	it := el.Value.(*item)

	if timeoutMs <= 0 {
		it.mu.Lock()
		for !it.done {
			it.cond.Wait()
		}
		res := it.res
		it.mu.Unlock()
		t.release(tok)
		return res, res.Err
	}

	done := make(chan Result, 1)
	go func() {
		it.mu.Lock()
		for !it.done {
			it.cond.Wait()
		}
		res := it.res
		it.mu.Unlock()
		done <- res
	}()

	select {
	case res := <-done:
		t.release(tok)
		return res, res.Err
	case <-timerFires(timeoutMs):
		_ = t.Cancel(tok)
		// An item the worker already claimed cannot be cancelled and may
		// never finish, so its result is taken only if already available.
		var res Result
		select {
		case res = <-done:
		default:
		}
		t.release(tok)
		if res.Err == nil {
			res.Err = ErrTimeout
		}
		return res, ErrTimeout
	}
}

// TryResult reports the outcome of tok without blocking and without
// disturbing a still-pending item: ok is false if the item hasn't
// completed yet (whether queued or already claimed by the worker), in
// which case tok remains live for a later Sync/TryResult call. Unlike
// SyncTimeout, a false result never cancels outstanding work.
func (t *Task) TryResult(tok Token) (Result, bool) {
	t.mu.Lock()
	el, ok := t.byToken[tok]
	t.mu.Unlock()
	if !ok {
		return Result{}, false
	}
	it := el.Value.(*item)

	it.mu.Lock()
	done := it.done
	res := it.res
	it.mu.Unlock()
	if !done {
		return Result{}, false
	}

	t.release(tok)
	return res, true
}

func timerFires(ms int) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		sleepMs(ms)
		close(ch)
	}()
	return ch
}

// Cancel removes a not-yet-started item from the list and marks it
// complete with ErrCancelled. A no-op if the item is already running
// or done.
func (t *Task) Cancel(tok Token) error {
	t.mu.Lock()
	el, ok := t.byToken[tok]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownToken
	}
	it := el.Value.(*item)

	it.mu.Lock()
	alreadyDone := it.done
	it.mu.Unlock()
	if alreadyDone {
		t.mu.Unlock()
		return nil
	}

	// Only remove if still pending (not claimed by the worker).
	removed := t.removePendingLocked(el)
	t.mu.Unlock()

	if removed {
		it.complete(Result{Err: ErrCancelled})
	}
	return nil
}

func (t *Task) removePendingLocked(el *list.Element) bool {
	for e := t.pending.Front(); e != nil; e = e.Next() {
		if e == el {
			t.pending.Remove(e)
			return true
		}
	}
	return false
}

// Flush drains the pending list, marking every entry complete with
// ErrInterrupted.
func (t *Task) Flush() {
	t.mu.Lock()
	var items []*item
	for e := t.pending.Front(); e != nil; e = e.Next() {
		items = append(items, e.Value.(*item))
	}
	t.pending.Init()
	t.mu.Unlock()

	for _, it := range items {
		it.complete(Result{Err: ErrInterrupted})
	}
}

// Destroy stops the worker, flushes, and releases internal state.
func (t *Task) Destroy() {
	t.Stop()
	t.Flush()
}

func (t *Task) release(tok Token) {
	t.mu.Lock()
	delete(t.byToken, tok)
	t.mu.Unlock()
}

// drainLocked runs every pending item synchronously; caller holds t.mu.
func (t *Task) drainLocked() {
	for {
		e := t.pending.Front()
		if e == nil {
			return
		}
		it := e.Value.(*item)
		t.pending.Remove(e)
		t.mu.Unlock()
		v, err := t.fn(t.ctx, it.elm)
		t.mu.Lock()
		it.complete(Result{Value: v, Err: err})
		if it.autoclear {
			delete(t.byToken, it.token)
		}
	}
}

// loop is the threaded worker: FIFO drains the pending list while
// Running, sleeping on wake/stop otherwise.
func (t *Task) loop(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		t.mu.Lock()
		if t.state != Running {
			t.mu.Unlock()
			select {
			case <-stopCh:
				return
			case <-t.wake:
				continue
			}
		}
		e := t.pending.Front()
		if e == nil {
			t.mu.Unlock()
			select {
			case <-stopCh:
				return
			case <-t.wake:
				continue
			}
		}
		it := e.Value.(*item)
		t.pending.Remove(e)
		t.mu.Unlock()

		v, err := t.fn(t.ctx, it.elm)
		it.complete(Result{Value: v, Err: err})

		t.mu.Lock()
		if it.autoclear {
			delete(t.byToken, it.token)
		}
		t.mu.Unlock()
	}
}
