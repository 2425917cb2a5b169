// Package ble implements link.Central on the host Bluetooth stack
// (BlueZ, CoreBluetooth or WinRT) via tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-idmcam/pkg/link"
	"tinygo.org/x/bluetooth"
)

// attHeader is the ATT write-request overhead subtracted from the MTU.
const attHeader = 3

// Central wraps a bluetooth.Adapter.
type Central struct {
	adapter *bluetooth.Adapter
	logger  *slog.Logger

	mu    sync.Mutex
	seen  map[link.Address]bluetooth.Address
	peers map[string]*peripheral
}

// Open enables the default adapter.
func Open(logger *slog.Logger) (*Central, error) {
	return New(bluetooth.DefaultAdapter, logger)
}

// New enables adapter and installs the connection handler.
func New(adapter *bluetooth.Adapter, logger *slog.Logger) (*Central, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", link.ErrNoCentral, err)
	}
	c := &Central{
		adapter: adapter,
		logger:  logger.With("component", "ble"),
		seen:    make(map[link.Address]bluetooth.Address),
		peers:   make(map[string]*peripheral),
	}
	adapter.SetConnectHandler(c.onConnect)
	return c, nil
}

func (c *Central) onConnect(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := dev.Address.String()
	c.mu.Lock()
	p := c.peers[key]
	delete(c.peers, key)
	c.mu.Unlock()
	if p != nil {
		p.markLost()
	}
}

// Scan runs an active scan until fn returns true or ctx ends.
func (c *Central) Scan(ctx context.Context, fn func(link.Advertisement) bool) error {
	done := make(chan error, 1)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := c.adapter.StopScan(); err != nil {
				c.logger.Debug("stop scan", "error", err)
			}
		})
	}

	go func() {
		done <- c.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			adv := link.Advertisement{
				Address: link.Address(res.Address.String()),
				Name:    res.LocalName(),
				RSSI:    res.RSSI,
			}
			c.mu.Lock()
			c.seen[adv.Address] = res.Address
			c.mu.Unlock()

			if fn(adv) {
				stop()
			}
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		stop()
		<-done
		return nil
	}
}

// Connect connects to a previously scanned address.
func (c *Central) Connect(ctx context.Context, addr link.Address, params link.ConnParams) (link.Peripheral, error) {
	c.mu.Lock()
	baddr, ok := c.seen[addr]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("address %s not seen in a scan", addr)
	}

	cp := bluetooth.ConnectionParams{
		MinInterval: bluetooth.NewDuration(link.IntervalDuration(params.MinInterval)),
		MaxInterval: bluetooth.NewDuration(link.IntervalDuration(params.MaxInterval)),
		Timeout:     bluetooth.NewDuration(link.TimeoutDuration(params.SupervisionTimeout)),
	}
	if dl, ok := ctx.Deadline(); ok {
		cp.ConnectionTimeout = bluetooth.NewDuration(max(time.Until(dl), 0))
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := c.adapter.Connect(baddr, cp)
		ch <- result{dev, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			// A late success must not leak a connection.
			if r := <-ch; r.err == nil {
				r.dev.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	p := &peripheral{
		dev:    res.dev,
		logger: c.logger.With("address", string(addr)),
		lost:   make(chan struct{}),
	}
	c.mu.Lock()
	c.peers[baddr.String()] = p
	c.mu.Unlock()
	return p, nil
}

type peripheral struct {
	dev    bluetooth.Device
	logger *slog.Logger

	mtu      int
	lostOnce sync.Once
	lost     chan struct{}
}

func (p *peripheral) markLost() {
	p.lostOnce.Do(func() { close(p.lost) })
}

func (p *peripheral) Characteristic(ctx context.Context, service, char uuid.UUID) (link.Characteristic, error) {
	svcID, err := bluetooth.ParseUUID(service.String())
	if err != nil {
		return nil, err
	}
	charID, err := bluetooth.ParseUUID(char.String())
	if err != nil {
		return nil, err
	}

	type result struct {
		char bluetooth.DeviceCharacteristic
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		svcs, err := p.dev.DiscoverServices([]bluetooth.UUID{svcID})
		if err != nil || len(svcs) == 0 {
			ch <- result{err: errors.Join(errors.New("service not found"), err)}
			return
		}
		chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charID})
		if err != nil || len(chars) == 0 {
			ch <- result{err: errors.Join(errors.New("characteristic not found"), err)}
			return
		}
		ch <- result{char: chars[0]}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if mtu, err := res.char.GetMTU(); err == nil && mtu > attHeader {
			p.mtu = int(mtu) - attHeader
		}
		return &characteristic{char: res.char, lost: p.lost}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *peripheral) MaxWrite() int {
	return p.mtu
}

func (p *peripheral) Disconnect() error {
	err := p.dev.Disconnect()
	p.markLost()
	return err
}

func (p *peripheral) Disconnected() <-chan struct{} {
	return p.lost
}

// requestWriter is a GATT write request: Write returns once the peer
// has acknowledged the value.
type requestWriter interface {
	Write(p []byte) (int, error)
}

var _ requestWriter = bluetooth.DeviceCharacteristic{}

type characteristic struct {
	char requestWriter
	lost <-chan struct{}
}

// Write performs a write-with-response. The stack call itself cannot be
// cancelled, so ctx only bounds how long the caller waits; the link
// session drops the connection when a write is left unacknowledged.
func (c *characteristic) Write(ctx context.Context, b []byte) error {
	ch := make(chan error, 1)
	go func() {
		_, err := c.char.Write(b)
		ch <- err
	}()

	select {
	case err := <-ch:
		if err != nil {
			select {
			case <-c.lost:
				return fmt.Errorf("%w: %v", link.ErrDisconnected, err)
			default:
			}
		}
		return err
	case <-c.lost:
		return link.ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ link.Central = (*Central)(nil)
