package frame

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FeedStats reports a Feed's traffic.
type FeedStats struct {
	Pushed  uint64 `json:"pushed"`
	Lent    uint64 `json:"lent"`
	Dropped uint64 `json:"dropped"` // pushed frames overwritten before anyone saw them
	InUse   int    `json:"in_use"`
}

// Feed is a Driver for sources that push frames at their own pace, such
// as a subprocess or a media pipeline. It keeps only the newest frame, so
// Get always hands out something captured after the previous Get.
type Feed struct {
	width   int
	height  int
	format  PixelFormat
	buffers int
	timeout time.Duration
	clock   func() time.Time

	mu       sync.Mutex
	latest   []byte
	latestAt time.Time
	seq      uint64 // sequence of latest, 0 before the first push
	taken    uint64 // sequence of the last lent frame
	lent     map[*Buffer]struct{}
	closed   bool
	err      error
	stats    FeedStats
	notify   chan struct{}
	onClose  func() error
}

// NewFeed creates a feed of width x height frames that lends at most
// buffers at once. Get gives up with ErrNoFrame after timeout.
func NewFeed(width, height int, format PixelFormat, buffers int, timeout time.Duration) *Feed {
	return &Feed{
		width:   width,
		height:  height,
		format:  format,
		buffers: max(buffers, 1),
		timeout: timeout,
		clock:   time.Now,
		lent:    make(map[*Buffer]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// OnClose registers fn to stop the producer when the feed is closed.
func (f *Feed) OnClose(fn func() error) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

// Push replaces the newest frame. The feed takes ownership of data.
func (f *Feed) Push(data []byte) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if f.seq > f.taken {
		f.stats.Dropped++
	}
	f.latest = data
	f.latestAt = f.clock()
	f.seq++
	f.stats.Pushed++
	f.mu.Unlock()
	f.wake()
}

// Fail records a terminal producer error; every later Get returns it.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.wake()
}

func (f *Feed) wake() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Get waits for a frame newer than the last one lent.
func (f *Feed) Get(ctx context.Context) (*Buffer, error) {
	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	for {
		buf, err, ready := f.take()
		if ready {
			return buf, err
		}
		select {
		case <-f.notify:
		case <-timer.C:
			return nil, ErrNoFrame
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (f *Feed) take() (*Buffer, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.closed:
		return nil, ErrClosed, true
	case f.err != nil:
		return nil, f.err, true
	case f.seq == f.taken || len(f.lent) >= f.buffers:
		return nil, nil, false
	}

	buf := &Buffer{
		Width:     f.width,
		Height:    f.height,
		Format:    f.format,
		Data:      f.latest,
		Timestamp: f.latestAt,
		Seq:       f.seq,
		Slot:      -1,
	}
	f.taken = f.seq
	f.latest = nil
	f.lent[buf] = struct{}{}
	f.stats.Lent++
	return buf, nil, true
}

// Return ends a loan.
func (f *Feed) Return(b *Buffer) error {
	f.mu.Lock()
	if _, ok := f.lent[b]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: seq %d", ErrForeignBuffer, seqOf(b))
	}
	delete(f.lent, b)
	f.mu.Unlock()
	f.wake()
	return nil
}

// Stats returns a snapshot of the counters.
func (f *Feed) Stats() FeedStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stats
	st.InUse = len(f.lent)
	return st
}

// Close stops the producer and fails pending and future Gets.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	stop := f.onClose
	f.mu.Unlock()
	f.wake()

	if stop != nil {
		return stop()
	}
	return nil
}

func seqOf(b *Buffer) uint64 {
	if b == nil {
		return 0
	}
	return b.Seq
}

var _ Driver = (*Feed)(nil)
