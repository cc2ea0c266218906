package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// Error codes reported by TinyGoHost. They follow the mini-program host so
// callers see the same values on every platform.
const (
	hostCodeNotInit          = 10000
	hostCodeNotAvailable     = 10001
	hostCodeNoDevice         = 10002
	hostCodeConnectionFail   = 10003
	hostCodeNoService        = 10004
	hostCodeNoCharacteristic = 10005
	hostCodeNoConnection     = 10006
)

func hostErr(code int, format string, args ...any) *HostError {
	return &HostError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// TinyGoHost implements Host on tinygo-org/bluetooth (CoreBluetooth on
// macOS, BlueZ on Linux, WinRT on Windows). Device ids are the address
// strings reported by the scanner; on macOS those are CoreBluetooth UUIDs
// rather than MAC addresses.
type TinyGoHost struct {
	adapter *bluetooth.Adapter

	// mu protects everything below.
	mu       sync.Mutex
	enabled  bool
	open     bool
	scanning bool
	devices  map[string]*tinyGoDevice // keyed by device id

	found  listeners[Device]
	states listeners[ConnectionState]
	values listeners[Value]
}

type tinyGoDevice struct {
	device   bluetooth.Device
	services map[string]bluetooth.DeviceService
	chars    map[string]map[string]bluetooth.DeviceCharacteristic // service id -> char id
}

// NewTinyGoHost creates a host backed by the default system adapter.
func NewTinyGoHost() *TinyGoHost {
	return &TinyGoHost{
		adapter: bluetooth.DefaultAdapter,
		devices: make(map[string]*tinyGoDevice),
	}
}

// Compile-time check that TinyGoHost implements Host.
var _ Host = (*TinyGoHost)(nil)

func (h *TinyGoHost) OpenAdapter(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		return nil
	}
	if !h.enabled {
		if err := h.adapter.Enable(); err != nil {
			return hostErr(hostCodeNotAvailable, "enable adapter: %v", err)
		}
		// tinygo fires this with connected=false when a peripheral drops,
		// including disconnects we did not ask for.
		h.adapter.SetConnectHandler(h.handleConnect)
		h.enabled = true
	}
	h.open = true
	return nil
}

func (h *TinyGoHost) handleConnect(device bluetooth.Device, connected bool) {
	id := device.Address.String()
	if !connected {
		h.mu.Lock()
		delete(h.devices, id)
		h.mu.Unlock()
	}
	h.states.emit(ConnectionState{DeviceID: id, Connected: connected})
}

// CloseAdapter stops scanning and drops every connection. tinygo has no
// way to power the radio down, so the adapter stays enabled underneath.
func (h *TinyGoHost) CloseAdapter(_ context.Context) error {
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		return hostErr(hostCodeNotInit, "adapter not open")
	}
	scanning := h.scanning
	devices := h.devices
	h.devices = make(map[string]*tinyGoDevice)
	h.open = false
	h.mu.Unlock()

	if scanning {
		if err := h.adapter.StopScan(); err != nil {
			slog.Warn("[BLE] stop scan on close", "error", err)
		}
	}
	for id, d := range devices {
		if err := d.device.Disconnect(); err != nil {
			slog.Warn("[BLE] disconnect on close", "device", id, "error", err)
		}
	}
	return nil
}

func (h *TinyGoHost) AdapterState(_ context.Context) (AdapterState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return AdapterState{Available: h.open, Discovering: h.scanning}, nil
}

// StartDiscovery runs the blocking tinygo scan on its own goroutine until
// StopDiscovery or CloseAdapter is called.
func (h *TinyGoHost) StartDiscovery(_ context.Context, allowDuplicates bool) error {
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		return hostErr(hostCodeNotInit, "adapter not open")
	}
	if h.scanning {
		h.mu.Unlock()
		return nil
	}
	h.scanning = true
	h.mu.Unlock()

	go func() {
		seen := make(map[string]bool)
		err := h.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			id := result.Address.String()
			if !allowDuplicates {
				if seen[id] {
					return
				}
				seen[id] = true
			}
			h.found.emit(Device{
				ID:        id,
				LocalName: result.LocalName(),
				RSSI:      int(result.RSSI),
			})
		})

		h.mu.Lock()
		h.scanning = false
		h.mu.Unlock()
		if err != nil {
			slog.Error("[BLE] scan stopped", "error", err)
		}
	}()
	return nil
}

func (h *TinyGoHost) StopDiscovery(_ context.Context) error {
	h.mu.Lock()
	scanning := h.scanning
	h.mu.Unlock()
	if !scanning {
		return nil
	}
	if err := h.adapter.StopScan(); err != nil {
		return hostErr(CodeSystemError, "stop scan: %v", err)
	}
	return nil
}

func (h *TinyGoHost) OnDeviceFound(fn func(Device)) ListenerID { return h.found.add(fn) }
func (h *TinyGoHost) OffDeviceFound(id ListenerID)             { h.found.remove(id) }

func (h *TinyGoHost) Connect(ctx context.Context, deviceID string) error {
	var addr bluetooth.Address
	addr.Set(deviceID)

	// tinygo's Connect blocks with its own timeout. We can't cancel it, but
	// we stop waiting when ctx is done.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := h.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return hostErr(hostCodeConnectionFail, "connect to %s: %v", deviceID, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return hostErr(hostCodeConnectionFail, "connect to %s: %v", deviceID, result.err)
		}
		h.mu.Lock()
		h.devices[deviceID] = &tinyGoDevice{
			device:   result.device,
			services: make(map[string]bluetooth.DeviceService),
			chars:    make(map[string]map[string]bluetooth.DeviceCharacteristic),
		}
		h.mu.Unlock()
		return nil
	}
}

func (h *TinyGoHost) lookup(deviceID string) (*tinyGoDevice, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[deviceID]
	if !ok {
		return nil, hostErr(hostCodeNoConnection, "no connection to %q", deviceID)
	}
	return d, nil
}

func (h *TinyGoHost) Disconnect(_ context.Context, deviceID string) error {
	d, err := h.lookup(deviceID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.devices, deviceID)
	h.mu.Unlock()
	if err := d.device.Disconnect(); err != nil {
		return hostErr(CodeSystemError, "disconnect %s: %v", deviceID, err)
	}
	return nil
}

func (h *TinyGoHost) OnConnectionStateChange(fn func(ConnectionState)) ListenerID {
	return h.states.add(fn)
}
func (h *TinyGoHost) OffConnectionStateChange(id ListenerID) { h.states.remove(id) }

func (h *TinyGoHost) Services(_ context.Context, deviceID string) ([]Service, error) {
	d, err := h.lookup(deviceID)
	if err != nil {
		return nil, err
	}
	svcs, err := d.device.DiscoverServices(nil)
	if err != nil {
		return nil, hostErr(hostCodeNoService, "discover services: %v", err)
	}

	out := make([]Service, 0, len(svcs))
	h.mu.Lock()
	for _, svc := range svcs {
		id := svc.UUID().String()
		d.services[id] = svc
		out = append(out, Service{UUID: id})
	}
	h.mu.Unlock()
	return out, nil
}

func (h *TinyGoHost) Characteristics(_ context.Context, deviceID, serviceID string) ([]Characteristic, error) {
	d, err := h.lookup(deviceID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	svc, ok := d.services[serviceID]
	h.mu.Unlock()
	if !ok {
		return nil, hostErr(hostCodeNoService, "service %q not discovered", serviceID)
	}

	chars, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, hostErr(hostCodeNoCharacteristic, "discover characteristics: %v", err)
	}

	out := make([]Characteristic, 0, len(chars))
	byID := make(map[string]bluetooth.DeviceCharacteristic, len(chars))
	for _, c := range chars {
		id := c.UUID().String()
		byID[id] = c
		out = append(out, Characteristic{UUID: id})
	}
	h.mu.Lock()
	d.chars[serviceID] = byID
	h.mu.Unlock()
	return out, nil
}

func (h *TinyGoHost) characteristic(deviceID, serviceID, charID string) (bluetooth.DeviceCharacteristic, error) {
	d, err := h.lookup(deviceID)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := d.chars[serviceID][charID]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, hostErr(hostCodeNoCharacteristic, "characteristic %q not discovered", charID)
	}
	return c, nil
}

func (h *TinyGoHost) Write(_ context.Context, deviceID, serviceID, charID string, data []byte) error {
	c, err := h.characteristic(deviceID, serviceID, charID)
	if err != nil {
		return err
	}
	if _, err := c.WriteWithoutResponse(data); err != nil {
		return hostErr(CodeSystemError, "write %s: %v", charID, err)
	}
	return nil
}

func (h *TinyGoHost) Notify(_ context.Context, deviceID, serviceID, charID string, enable bool) error {
	c, err := h.characteristic(deviceID, serviceID, charID)
	if err != nil {
		return err
	}
	if !enable {
		if err := c.EnableNotifications(nil); err != nil {
			return hostErr(CodeSystemError, "disable notifications: %v", err)
		}
		return nil
	}
	err = c.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		h.values.emit(Value{
			DeviceID:         deviceID,
			ServiceID:        serviceID,
			CharacteristicID: charID,
			Data:             data,
		})
	})
	if err != nil {
		return hostErr(CodeSystemError, "enable notifications: %v", err)
	}
	return nil
}

func (h *TinyGoHost) OnValueChange(fn func(Value)) ListenerID { return h.values.add(fn) }
func (h *TinyGoHost) OffValueChange(id ListenerID)            { h.values.remove(id) }

// SetMTU is not available: tinygo negotiates the MTU itself when
// connecting. Use CurrentMTU to read the result.
func (h *TinyGoHost) SetMTU(_ context.Context, _ string, _ int) (int, error) {
	return 0, hostErr(CodeNotSupported, "mtu negotiation not supported")
}

func (h *TinyGoHost) Capabilities() Capabilities {
	return Capabilities{SetMTU: false}
}

// CurrentMTU reports the MTU negotiated for a discovered characteristic
// of deviceID.
func (h *TinyGoHost) CurrentMTU(deviceID, serviceID, charID string) (int, error) {
	c, err := h.characteristic(deviceID, serviceID, charID)
	if err != nil {
		return 0, err
	}
	mtu, err := c.GetMTU()
	if err != nil {
		return 0, fmt.Errorf("ble: get mtu: %w", err)
	}
	return int(mtu), nil
}
