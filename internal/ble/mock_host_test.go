package ble

import (
	"context"
	"sync"
	"testing"
)

// mockHost is a scripted Host. Set failures[op] to make the named
// operation fail; every call is recorded in calls.
type mockHost struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
	state    AdapterState
	caps     Capabilities
	services []Service
	chars    []Characteristic
	writes   [][]byte
	notified []string // characteristic ids with notifications enabled
	mtu      int

	found  listeners[Device]
	states listeners[ConnectionState]
	values listeners[Value]
}

func newMockHost() *mockHost {
	return &mockHost{
		failures: make(map[string]error),
		state:    AdapterState{Available: true},
		services: []Service{
			{UUID: "00001800-0000-1000-8000-00805F9B34FB"},
			{UUID: "0000FFE0-0000-1000-8000-00805F9B34FB"},
		},
		chars: []Characteristic{
			{UUID: "0000FFE1-0000-1000-8000-00805F9B34FB"},
		},
	}
}

// record logs the call and returns the scripted failure, if any.
func (h *mockHost) record(op string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, op)
	return h.failures[op]
}

func (h *mockHost) fail(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[op] = err
}

func (h *mockHost) callLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *mockHost) called(op string) int {
	n := 0
	for _, c := range h.callLog() {
		if c == op {
			n++
		}
	}
	return n
}

func (h *mockHost) writeLog() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.writes...)
}

func (h *mockHost) OpenAdapter(context.Context) error  { return h.record("OpenAdapter") }
func (h *mockHost) CloseAdapter(context.Context) error { return h.record("CloseAdapter") }

func (h *mockHost) AdapterState(context.Context) (AdapterState, error) {
	if err := h.record("AdapterState"); err != nil {
		return AdapterState{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, nil
}

func (h *mockHost) StartDiscovery(context.Context, bool) error { return h.record("StartDiscovery") }
func (h *mockHost) StopDiscovery(context.Context) error        { return h.record("StopDiscovery") }
func (h *mockHost) OnDeviceFound(fn func(Device)) ListenerID  { return h.found.add(fn) }
func (h *mockHost) OffDeviceFound(id ListenerID)              { h.found.remove(id) }

func (h *mockHost) Connect(context.Context, string) error    { return h.record("Connect") }
func (h *mockHost) Disconnect(context.Context, string) error { return h.record("Disconnect") }

func (h *mockHost) OnConnectionStateChange(fn func(ConnectionState)) ListenerID {
	return h.states.add(fn)
}
func (h *mockHost) OffConnectionStateChange(id ListenerID) { h.states.remove(id) }

func (h *mockHost) Services(context.Context, string) ([]Service, error) {
	if err := h.record("Services"); err != nil {
		return nil, err
	}
	return h.services, nil
}

func (h *mockHost) Characteristics(context.Context, string, string) ([]Characteristic, error) {
	if err := h.record("Characteristics"); err != nil {
		return nil, err
	}
	return h.chars, nil
}

func (h *mockHost) Write(_ context.Context, _, _, _ string, data []byte) error {
	if err := h.record("Write"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	h.writes = append(h.writes, cp)
	return nil
}

func (h *mockHost) Notify(_ context.Context, _, _, charID string, enable bool) error {
	if err := h.record("Notify"); err != nil {
		return err
	}
	if enable {
		h.mu.Lock()
		h.notified = append(h.notified, charID)
		h.mu.Unlock()
	}
	return nil
}

func (h *mockHost) OnValueChange(fn func(Value)) ListenerID { return h.values.add(fn) }
func (h *mockHost) OffValueChange(id ListenerID)            { h.values.remove(id) }

func (h *mockHost) SetMTU(_ context.Context, _ string, mtu int) (int, error) {
	if err := h.record("SetMTU"); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mtu = mtu
	return mtu, nil
}

func (h *mockHost) Capabilities() Capabilities { return h.caps }

// SimulateDevice delivers a discovery sighting.
func (h *mockHost) SimulateDevice(d Device) { h.found.emit(d) }

// SimulateValue delivers a notification from deviceID.
func (h *mockHost) SimulateValue(deviceID string, data []byte) {
	h.values.emit(Value{DeviceID: deviceID, Data: data})
}

// SimulateConnectionState delivers a connection state change.
func (h *mockHost) SimulateConnectionState(deviceID string, connected bool) {
	h.states.emit(ConnectionState{DeviceID: deviceID, Connected: connected})
}

func TestMockHostImplementsInterface(t *testing.T) {
	var _ Host = (*mockHost)(nil)
}
