package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestLink(t *testing.T, central Central, opts ...Option) *Link {
	t.Helper()
	l, err := New(central, append([]Option{quiet(), WithScanTimeout(100 * time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func openSession(t *testing.T, l *Link) *Session {
	t.Helper()
	s, err := l.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func payload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:         "idle",
		StateScanning:     "scanning",
		StateConnected:    "connected",
		StateStreaming:    "streaming",
		StateDisconnected: "disconnected",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("Expected %q, got %q", want, s.String())
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
	if cfg.MaxChunk != 512 {
		t.Errorf("Expected 512 byte chunks, got %d", cfg.MaxChunk)
	}
	if cfg.ConnParams != (ConnParams{120, 120, 0, 60}) {
		t.Errorf("Unexpected conn params %+v", cfg.ConnParams)
	}
	if IntervalDuration(120) != 150*time.Millisecond {
		t.Errorf("Expected 150ms interval, got %s", IntervalDuration(120))
	}
	if TimeoutDuration(60) != 600*time.Millisecond {
		t.Errorf("Expected 600ms timeout, got %s", TimeoutDuration(60))
	}

	cfg.MaxChunk = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero chunk size")
	}
}

func TestScanMatchesFilter(t *testing.T) {
	l := newTestLink(t, NewMockCentral())

	adv, err := l.Scan(context.Background(), "IDM", time.Second)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if adv.Name != "IDM-1A2B" || adv.Address != "AA:BB:CC:DD:EE:02" {
		t.Errorf("Unexpected advertisement %+v", adv)
	}
	if l.State() != StateIdle {
		t.Errorf("Expected idle after scan, got %s", l.State())
	}
}

func TestScanTimeout(t *testing.T) {
	c := NewMockCentral()
	c.Advertisements = []Advertisement{{Address: "x", Name: "Keyboard"}}
	l := newTestLink(t, c)

	start := time.Now()
	_, err := l.Scan(context.Background(), "IDM", 30*time.Millisecond)
	if !errors.Is(err, ErrScanTimeout) {
		t.Fatalf("Expected ErrScanTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Expected scan to stop at its timeout")
	}
	if c.CallCount("Scan") != 1 {
		t.Errorf("Expected exactly one scan attempt, got %d", c.CallCount("Scan"))
	}
}

func TestScanCancelled(t *testing.T) {
	c := NewMockCentral()
	c.Advertisements = nil
	l := newTestLink(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Scan(ctx, "IDM", time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDiscover(t *testing.T) {
	c := NewMockCentral()
	c.Advertisements = []Advertisement{
		{Address: "a", Name: "IDM-A", RSSI: -80},
		{Address: "b", Name: "Other"},
		{Address: "a", Name: "IDM-A", RSSI: -50},
		{Address: "c", Name: "IDM-C", RSSI: -60},
	}
	l := newTestLink(t, c)

	advs, err := l.Discover(context.Background(), "IDM", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(advs) != 2 {
		t.Fatalf("Expected 2 panels, got %d", len(advs))
	}
	if advs[0].Address != "a" || advs[0].RSSI != -50 {
		t.Errorf("Expected strongest signal kept, got %+v", advs[0])
	}
}

func TestConnect(t *testing.T) {
	c := NewMockCentral()
	var states []State
	var mu sync.Mutex
	l := newTestLink(t, c)
	l.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	s := openSession(t, l)
	if s.Address() != "AA:BB:CC:DD:EE:02" {
		t.Errorf("Unexpected address %s", s.Address())
	}
	if l.State() != StateConnected {
		t.Errorf("Expected connected, got %s", l.State())
	}
	if c.LastParams() != DefaultConnParams() {
		t.Errorf("Expected default conn params, got %+v", c.LastParams())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 3 || states[0] != StateScanning || states[len(states)-1] != StateConnected {
		t.Errorf("Unexpected transitions %v", states)
	}
}

func TestConnectWhileActive(t *testing.T) {
	l := newTestLink(t, NewMockCentral())
	openSession(t, l)

	if _, err := l.Open(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}
}

func TestConnectError(t *testing.T) {
	c := NewMockCentral()
	c.ConnectFunc = func(ctx context.Context, addr Address, params ConnParams) (Peripheral, error) {
		return nil, errors.New("le-connection-abort-by-local")
	}
	l := newTestLink(t, c)

	_, err := l.Open(context.Background())
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConnectError, got %v", err)
	}
	if ce.Address != "AA:BB:CC:DD:EE:02" {
		t.Errorf("Unexpected address %s", ce.Address)
	}
}

func TestProtocolMismatch(t *testing.T) {
	c := NewMockCentral()
	c.Peripheral.Char = nil
	l := newTestLink(t, c)

	_, err := l.Open(context.Background())
	if !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("Expected ErrProtocolMismatch, got %v", err)
	}
	if c.Peripheral.CallCount("Disconnect") != 1 {
		t.Error("Expected peripheral to be disconnected after mismatch")
	}
	if l.Session() != nil {
		t.Error("Expected no session after mismatch")
	}
}

func TestSendChunkedChunking(t *testing.T) {
	tests := []struct {
		name   string
		length int
		chunk  int
		want   int
	}{
		{"exact", 1024, 512, 2},
		{"remainder", 1300, 512, 3},
		{"small", 5, 512, 1},
		{"tiny chunks", 10, 3, 4},
		{"empty", 0, 512, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMockCentral()
			l := newTestLink(t, c, WithMaxChunk(tt.chunk))
			s := openSession(t, l)

			data := payload(tt.length)
			if err := s.SendChunked(context.Background(), data, nil); err != nil {
				t.Fatalf("SendChunked failed: %v", err)
			}

			writes := c.Peripheral.Char.Writes()
			if len(writes) != tt.want {
				t.Fatalf("Expected %d chunks, got %d", tt.want, len(writes))
			}
			for i, w := range writes[:max(len(writes)-1, 0)] {
				if len(w) != tt.chunk {
					t.Errorf("Chunk %d: expected %d bytes, got %d", i, tt.chunk, len(w))
				}
			}
			if !bytes.Equal(c.Peripheral.Char.Bytes(), data) {
				t.Error("Expected chunks to reassemble the payload in order")
			}
		})
	}
}

func TestSendChunkedHonorsMaxWrite(t *testing.T) {
	c := NewMockCentral()
	c.Peripheral.MaxWriteSize = 244
	l := newTestLink(t, c)
	s := openSession(t, l)

	if s.ChunkSize() != 244 {
		t.Fatalf("Expected negotiated chunk 244, got %d", s.ChunkSize())
	}
	if err := s.SendChunked(context.Background(), payload(500), nil); err != nil {
		t.Fatalf("SendChunked failed: %v", err)
	}
	if len(c.Peripheral.Char.Writes()) != 3 {
		t.Errorf("Expected 3 chunks, got %d", len(c.Peripheral.Char.Writes()))
	}
}

func TestSendChunkedProgress(t *testing.T) {
	l := newTestLink(t, NewMockCentral())
	s := openSession(t, l)

	var got []Progress
	if err := s.SendChunked(context.Background(), payload(1200), func(p Progress) {
		got = append(got, p)
	}); err != nil {
		t.Fatalf("SendChunked failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("Expected 3 progress reports, got %d", len(got))
	}
	wantSent := []int{512, 1024, 1200}
	for i, p := range got {
		if p.Sent != wantSent[i] || p.Total != 1200 {
			t.Errorf("Report %d: expected %d/1200, got %d/%d", i, wantSent[i], p.Sent, p.Total)
		}
		if p.TransferID != got[0].TransferID {
			t.Error("Expected one transfer ID per payload")
		}
	}
	if !got[2].Done() || got[2].Percent() != 100 {
		t.Errorf("Expected final report done at 100%%, got %d%%", got[2].Percent())
	}
	if got[0].Percent() != 42 {
		t.Errorf("Expected 42%%, got %d%%", got[0].Percent())
	}
}

func TestSendChunkedAbortsOnFailure(t *testing.T) {
	c := NewMockCentral()
	writeErr := errors.New("att: write not permitted")
	c.Peripheral.Char.WriteFunc = FailAt(2, writeErr)
	l := newTestLink(t, c)
	s := openSession(t, l)

	err := s.SendChunked(context.Background(), payload(512*5), nil)
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *SendError, got %v", err)
	}
	if se.Offset != 1024 || se.Chunk != 2 || se.Total != 2560 {
		t.Errorf("Expected abort at chunk 2 offset 1024, got chunk %d offset %d", se.Chunk, se.Offset)
	}
	if !errors.Is(err, writeErr) {
		t.Error("Expected SendError to wrap the write error")
	}
	if n := c.Peripheral.Char.CallCount("Write"); n != 3 {
		t.Errorf("Expected later chunks never attempted (3 writes), got %d", n)
	}
	if !s.Alive() || l.State() != StateConnected {
		t.Errorf("Expected session to stay connected after a write error, got %s", l.State())
	}
}

func TestSendChunkedWriteTimeout(t *testing.T) {
	c := NewMockCentral()
	c.Peripheral.Char.Latency = time.Second
	l := newTestLink(t, c, WithWriteTimeout(20*time.Millisecond))
	s := openSession(t, l)

	err := s.SendChunked(context.Background(), payload(10), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected write timeout, got %v", err)
	}
	if !IsDisconnect(err) {
		t.Errorf("Expected an unacknowledged chunk to end the session, got %v", err)
	}
	if n := c.Peripheral.CallCount("Disconnect"); n != 1 {
		t.Errorf("Expected peripheral disconnected once, got %d", n)
	}
	select {
	case <-s.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("Expected Disconnected to fire")
	}
	if l.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", l.State())
	}

	// Nothing may follow a chunk that could still be in flight.
	if err := s.SendChunked(context.Background(), payload(10), nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	if n := c.Peripheral.Char.CallCount("Write"); n != 1 {
		t.Errorf("Expected a single write attempt, got %d", n)
	}
}

func TestDisconnectMidStream(t *testing.T) {
	c := NewMockCentral()
	c.Peripheral.Char.WriteFunc = func(_ context.Context, index int, _ []byte) error {
		if index == 1 {
			c.Peripheral.Drop()
			return ErrDisconnected
		}
		return nil
	}
	l := newTestLink(t, c)
	s := openSession(t, l)

	err := s.SendChunked(context.Background(), payload(2000), nil)
	if !IsDisconnect(err) {
		t.Fatalf("Expected disconnect error, got %v", err)
	}

	select {
	case <-s.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("Expected Disconnected to fire")
	}
	if l.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", l.State())
	}
	if err := s.SendChunked(context.Background(), payload(10), nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed on dead session, got %v", err)
	}

	s.Close()
	c.Peripheral.Char.WriteFunc = nil
	s2, err := l.Open(context.Background())
	if err != nil {
		t.Fatalf("Expected fresh scan and connect to succeed, got %v", err)
	}
	defer s2.Close()
	if err := s2.SendChunked(context.Background(), payload(10), nil); err != nil {
		t.Errorf("Expected send on new session to succeed, got %v", err)
	}
}

func TestPeerDropDetected(t *testing.T) {
	c := NewMockCentral()
	l := newTestLink(t, c)
	s := openSession(t, l)

	c.Peripheral.Drop()
	select {
	case <-s.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("Expected Disconnected to fire")
	}
	if l.Session() != nil {
		t.Error("Expected link to forget a dropped session")
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := NewMockCentral()
	l := newTestLink(t, c)
	s := openSession(t, l)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
	if c.Peripheral.CallCount("Disconnect") != 1 {
		t.Errorf("Expected one disconnect, got %d", c.Peripheral.CallCount("Disconnect"))
	}
	if l.State() != StateIdle {
		t.Errorf("Expected idle after close, got %s", l.State())
	}
	if err := s.SendChunked(context.Background(), payload(1), nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}
