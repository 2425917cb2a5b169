package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Arg    string
	Time   time.Time
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []MockCall
}

func (r *mockRecorder) record(method, arg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{Method: method, Arg: arg, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (r *mockRecorder) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MockCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns the number of times a method was called.
func (r *mockRecorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (r *mockRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// MockCentral implements Central for testing. Scan replays
// Advertisements; Connect hands out Peripheral.
type MockCentral struct {
	mockRecorder

	// Advertisements are replayed on every Scan, then Scan waits for ctx.
	Advertisements []Advertisement

	// ScanFunc, if set, replaces the replay.
	ScanFunc func(ctx context.Context, fn func(Advertisement) bool) error

	// ConnectFunc, if set, replaces the default Connect.
	ConnectFunc func(ctx context.Context, addr Address, params ConnParams) (Peripheral, error)

	// Peripheral is returned by the default Connect.
	Peripheral *MockPeripheral

	mu         sync.Mutex
	lastParams ConnParams
}

// NewMockCentral creates a central that advertises one iDotMatrix panel
// and connects to a fresh MockPeripheral.
func NewMockCentral() *MockCentral {
	return &MockCentral{
		Advertisements: []Advertisement{
			{Address: "AA:BB:CC:DD:EE:01", Name: "Speaker"},
			{Address: "AA:BB:CC:DD:EE:02", Name: "IDM-1A2B", RSSI: -48},
		},
		Peripheral: NewMockPeripheral(),
	}
}

// Scan calls ScanFunc or replays Advertisements.
func (m *MockCentral) Scan(ctx context.Context, fn func(Advertisement) bool) error {
	m.record("Scan", "")
	if m.ScanFunc != nil {
		return m.ScanFunc(ctx, fn)
	}
	for _, adv := range m.Advertisements {
		if ctx.Err() != nil {
			return nil
		}
		if fn(adv) {
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

// Connect calls ConnectFunc or returns Peripheral.
func (m *MockCentral) Connect(ctx context.Context, addr Address, params ConnParams) (Peripheral, error) {
	m.record("Connect", string(addr))
	m.mu.Lock()
	m.lastParams = params
	p := m.Peripheral
	m.mu.Unlock()

	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, addr, params)
	}
	if p == nil {
		return nil, errors.New("mock: no peripheral")
	}
	p.reconnect()
	return p, nil
}

// SetPeripheral swaps the peripheral handed out by Connect.
func (m *MockCentral) SetPeripheral(p *MockPeripheral) {
	m.mu.Lock()
	m.Peripheral = p
	m.mu.Unlock()
}

// LastParams returns the connection parameters of the last Connect.
func (m *MockCentral) LastParams() ConnParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastParams
}

// MockPeripheral implements Peripheral for testing.
type MockPeripheral struct {
	mockRecorder

	// Char is returned for the iDotMatrix endpoint. Nil means the service
	// is missing.
	Char *MockCharacteristic

	// MaxWriteSize is reported by MaxWrite.
	MaxWriteSize int

	mu   sync.Mutex
	lost chan struct{}
}

// NewMockPeripheral creates a peripheral exposing one writable
// characteristic.
func NewMockPeripheral() *MockPeripheral {
	return &MockPeripheral{
		Char: NewMockCharacteristic(),
		lost: make(chan struct{}),
	}
}

func (m *MockPeripheral) reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.lost:
		m.lost = make(chan struct{})
	default:
	}
	if m.Char != nil {
		m.Char.attach(m)
	}
}

// Characteristic returns Char, or an error when Char is nil.
func (m *MockPeripheral) Characteristic(ctx context.Context, service, char uuid.UUID) (Characteristic, error) {
	m.record("Characteristic", service.String()+"/"+char.String())
	if m.Char == nil {
		return nil, errors.New("mock: service not found")
	}
	return m.Char, nil
}

// MaxWrite returns MaxWriteSize.
func (m *MockPeripheral) MaxWrite() int {
	return m.MaxWriteSize
}

// Disconnect closes the connection.
func (m *MockPeripheral) Disconnect() error {
	m.record("Disconnect", "")
	m.Drop()
	return nil
}

// Disconnected is closed by Drop or Disconnect.
func (m *MockPeripheral) Disconnected() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost
}

// Drop simulates the peer going away.
func (m *MockPeripheral) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.lost:
	default:
		close(m.lost)
	}
}

// Connected reports whether the mock link is up.
func (m *MockPeripheral) Connected() bool {
	select {
	case <-m.Disconnected():
		return false
	default:
		return true
	}
}

// MockCharacteristic records every acknowledged write.
type MockCharacteristic struct {
	mockRecorder

	// WriteFunc, if set, is consulted before a write is recorded. Index is
	// the zero-based write number since the last Reset.
	WriteFunc func(ctx context.Context, index int, p []byte) error

	// Latency delays every write.
	Latency time.Duration

	mu     sync.Mutex
	writes [][]byte
	seen   int
	peer   *MockPeripheral
}

// NewMockCharacteristic creates an always-succeeding characteristic.
func NewMockCharacteristic() *MockCharacteristic {
	return &MockCharacteristic{}
}

func (m *MockCharacteristic) attach(p *MockPeripheral) {
	m.mu.Lock()
	m.peer = p
	m.mu.Unlock()
}

// Write records p after an optional delay and WriteFunc check.
func (m *MockCharacteristic) Write(ctx context.Context, p []byte) error {
	m.record("Write", "")

	m.mu.Lock()
	index := m.seen
	m.seen++
	peer := m.peer
	m.mu.Unlock()

	if peer != nil && !peer.Connected() {
		return ErrDisconnected
	}
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.WriteFunc != nil {
		if err := m.WriteFunc(ctx, index, p); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.writes = append(m.writes, append([]byte(nil), p...))
	m.mu.Unlock()
	return nil
}

// Writes returns copies of the acknowledged writes in order.
func (m *MockCharacteristic) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Bytes returns every acknowledged write concatenated.
func (m *MockCharacteristic) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for _, w := range m.writes {
		out = append(out, w...)
	}
	return out
}

// Reset clears recorded writes and calls.
func (m *MockCharacteristic) Reset() {
	m.mockRecorder.Reset()
	m.mu.Lock()
	m.writes = nil
	m.seen = 0
	m.mu.Unlock()
}

// FailAt returns a WriteFunc that fails write number k with err.
func FailAt(k int, err error) func(context.Context, int, []byte) error {
	return func(_ context.Context, index int, _ []byte) error {
		if index == k {
			return err
		}
		return nil
	}
}

// Verify mocks implement their interfaces at compile time.
var (
	_ Central        = (*MockCentral)(nil)
	_ Peripheral     = (*MockPeripheral)(nil)
	_ Characteristic = (*MockCharacteristic)(nil)
)
