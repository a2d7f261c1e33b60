// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	"github.com/Avi0n/pocketmesh/clog"
)

// The companion radio exposes a Nordic UART style service: the client
// writes frames to rx and receives frames as notifications on tx, one
// frame per notification.
const (
	CompanionServiceUUID = "6e400001b5a3f393e0a9e50e24dcca9e"
	companionRxCharUUID  = "6e400002b5a3f393e0a9e50e24dcca9e"
	companionTxCharUUID  = "6e400003b5a3f393e0a9e50e24dcca9e"
)

// BLEDeviceFactory creates the host BLE device. Tests and non-Linux
// hosts override it.
var BLEDeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// BLE is a central-role transport to a companion radio peripheral.
type BLE struct {
	frames chan []byte
	stateNotifier

	mu     sync.Mutex
	client ble.Client
	rxChar *ble.Characteristic

	nmu    sync.RWMutex
	dead   bool
	closed chan struct{}
	once   sync.Once

	clog.Clog
}

// NewBLE creates an unconnected BLE transport.
func NewBLE() *BLE {
	return &BLE{
		frames:        make(chan []byte, 16),
		stateNotifier: newStateNotifier(),
		closed:        make(chan struct{}),
		Clog:          clog.NewLogger("ble => "),
	}
}

// Connect dials the peripheral by address, discovers the companion
// service and subscribes to its notification characteristic. On return
// the transport is Ready.
func (sf *BLE) Connect(ctx context.Context, addr string) error {
	sf.set(Connecting)

	dev, err := BLEDeviceFactory()
	if err != nil {
		sf.set(Disconnected)
		return fmt.Errorf("ble device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	client, err := ble.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		sf.set(Disconnected)
		return fmt.Errorf("ble dial %s: %w", addr, err)
	}
	sf.set(Connected)

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		sf.set(Disconnected)
		return fmt.Errorf("ble discover: %w", err)
	}

	rx, tx := findCompanionChars(profile)
	if rx == nil || tx == nil {
		client.CancelConnection()
		sf.set(Disconnected)
		return fmt.Errorf("ble: peripheral %s lacks the companion service", addr)
	}

	if err := client.Subscribe(tx, false, sf.onNotify); err != nil {
		client.CancelConnection()
		sf.set(Disconnected)
		return fmt.Errorf("ble subscribe: %w", err)
	}

	sf.mu.Lock()
	sf.client = client
	sf.rxChar = rx
	sf.mu.Unlock()

	go sf.watchDisconnect(client)
	sf.set(Ready)
	sf.Debug("connected to %s", addr)
	return nil
}

func findCompanionChars(p *ble.Profile) (rx, tx *ble.Characteristic) {
	for _, svc := range p.Services {
		if !uuidEqual(svc.UUID, CompanionServiceUUID) {
			continue
		}
		for _, ch := range svc.Characteristics {
			switch {
			case uuidEqual(ch.UUID, companionRxCharUUID):
				rx = ch
			case uuidEqual(ch.UUID, companionTxCharUUID):
				tx = ch
			}
		}
	}
	return rx, tx
}

func uuidEqual(u ble.UUID, want string) bool {
	return strings.EqualFold(strings.ReplaceAll(u.String(), "-", ""), want)
}

// onNotify delivers one notification as one protocol frame. The
// handler holds nmu so teardown cannot close the stream mid-delivery.
func (sf *BLE) onNotify(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)
	sf.nmu.RLock()
	defer sf.nmu.RUnlock()
	if sf.dead {
		return
	}
	select {
	case sf.frames <- frame:
	case <-sf.closed:
	}
}

func (sf *BLE) watchDisconnect(client ble.Client) {
	select {
	case <-client.Disconnected():
		sf.Warn("peripheral disconnected")
		sf.down()
	case <-sf.closed:
	}
}

// WriteFrame writes one frame to the rx characteristic with response so
// the radio acknowledges acceptance.
func (sf *BLE) WriteFrame(ctx context.Context, frame []byte) error {
	if len(frame) == 0 || len(frame) > MaxFrameSize {
		return ErrFrameTooBig
	}
	sf.mu.Lock()
	client, rx := sf.client, sf.rxChar
	sf.mu.Unlock()
	if client == nil || sf.get() != Ready {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := client.WriteCharacteristic(rx, frame, false); err != nil {
		sf.Error("write failed: %v", err)
		sf.down()
		return err
	}
	return nil
}

// Frames implements Transport.
func (sf *BLE) Frames() <-chan []byte { return sf.frames }

// State implements Transport.
func (sf *BLE) State() State { return sf.get() }

// StateChanges implements Transport.
func (sf *BLE) StateChanges() <-chan State { return sf.changes }

// Close disconnects from the peripheral.
func (sf *BLE) Close() error {
	sf.down()
	return nil
}

func (sf *BLE) down() {
	sf.once.Do(func() {
		close(sf.closed)
		sf.mu.Lock()
		client := sf.client
		sf.client = nil
		sf.mu.Unlock()
		if client != nil {
			client.CancelConnection()
		}
		sf.nmu.Lock()
		sf.dead = true
		close(sf.frames)
		sf.nmu.Unlock()
		sf.set(Disconnected)
	})
}
