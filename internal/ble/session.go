package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/easyble/internal/ble/protocol"
	"github.com/chaz8081/easyble/internal/timeutil"
)

// Options configures a Session.
type Options struct {
	ServicePrefix   uint32        // numeric prefix of the service UUID to select
	ReadCharPrefix  uint32        // prefix of the notifying characteristic
	WriteCharPrefix uint32        // prefix of the characteristic written to
	ReceiveTimeout  time.Duration // default timeout for ReceiveUntil (100s)
	ChunkSize       int           // max bytes per write, 0 writes the payload at once
	InterChunkDelay time.Duration // delay between fragments when ChunkSize > 0
}

// DefaultOptions returns the options used by most FFE0/FFE1 serial modules.
func DefaultOptions() Options {
	return Options{
		ServicePrefix:   DefaultServicePrefix,
		ReadCharPrefix:  DefaultReadCharPrefix,
		WriteCharPrefix: DefaultWriteCharPrefix,
		ReceiveTimeout:  100 * time.Second,
		InterChunkDelay: 20 * time.Millisecond,
	}
}

// SessionState holds the identifiers selected while connecting.
type SessionState struct {
	DeviceID    string
	ServiceID   string
	ReadCharID  string
	WriteCharID string
}

// Session drives one logical connection to a peripheral over a Host.
// Every operation reports failure as an *Error; none of them panic.
type Session struct {
	host Host
	opts Options

	mu        sync.Mutex
	devices   []Device // unique by name
	foundID   ListenerID
	state     SessionState
	receivers map[ListenerID]struct{}
	watchers  map[ListenerID]struct{}
}

// NewSession creates a session on host. Zero option fields take defaults.
func NewSession(host Host, opts Options) *Session {
	def := DefaultOptions()
	if opts.ServicePrefix == 0 {
		opts.ServicePrefix = def.ServicePrefix
	}
	if opts.ReadCharPrefix == 0 {
		opts.ReadCharPrefix = def.ReadCharPrefix
	}
	if opts.WriteCharPrefix == 0 {
		opts.WriteCharPrefix = def.WriteCharPrefix
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = def.ReceiveTimeout
	}
	return &Session{
		host:      host,
		opts:      opts,
		receivers: make(map[ListenerID]struct{}),
		watchers:  make(map[ListenerID]struct{}),
	}
}

// fail converts err into the session's failure record. It returns an
// untyped nil for a nil err.
func fail(err error) error {
	if err == nil {
		return nil
	}
	return toError(err)
}

// OpenAdapter initialises the host Bluetooth stack.
func (s *Session) OpenAdapter(ctx context.Context) error {
	return fail(s.host.OpenAdapter(ctx))
}

// CloseAdapter shuts down the host Bluetooth stack.
func (s *Session) CloseAdapter(ctx context.Context) error {
	return fail(s.host.CloseAdapter(ctx))
}

// AdapterAvailable returns ErrAdapterUnavailable when the adapter is off.
func (s *Session) AdapterAvailable(ctx context.Context) error {
	st, err := s.host.AdapterState(ctx)
	if err != nil {
		return fail(err)
	}
	if !st.Available {
		slog.Debug("[BLE] adapter unavailable", "discovering", st.Discovering)
		return ErrAdapterUnavailable
	}
	return nil
}

// StartDiscovery clears the device list and starts scanning. fn is called
// with the name and signal strength of every sighting, including repeat
// sightings of a known name. Devices without a name are ignored.
func (s *Session) StartDiscovery(ctx context.Context, fn func(name string, rssi int)) error {
	s.mu.Lock()
	s.devices = nil
	prev := s.foundID
	s.foundID = 0
	s.mu.Unlock()
	if prev != 0 {
		s.host.OffDeviceFound(prev)
	}

	id := s.host.OnDeviceFound(func(d Device) {
		name, rssi, ok := s.recordSighting(d)
		if ok && fn != nil {
			fn(name, rssi)
		}
	})
	s.mu.Lock()
	s.foundID = id
	s.mu.Unlock()

	if err := s.host.StartDiscovery(ctx, true); err != nil {
		slog.Warn("[BLE] start discovery failed", "error", err)
		s.dropFoundListener()
		return fail(err)
	}
	slog.Debug("[BLE] discovery started")
	return nil
}

// recordSighting adds d to the device list or refreshes the signal
// strength of the entry with the same name.
func (s *Session) recordSighting(d Device) (string, int, bool) {
	name := d.DisplayName()
	if name == "" {
		return "", 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.devices {
		if s.devices[i].Name == name {
			s.devices[i].RSSI = d.RSSI
			return name, d.RSSI, true
		}
	}
	s.devices = append(s.devices, Device{ID: d.ID, Name: name, LocalName: d.LocalName, RSSI: d.RSSI})
	return name, d.RSSI, true
}

func (s *Session) dropFoundListener() {
	s.mu.Lock()
	id := s.foundID
	s.foundID = 0
	s.mu.Unlock()
	if id != 0 {
		s.host.OffDeviceFound(id)
	}
}

// StopDiscovery stops scanning and stops collecting sightings.
func (s *Session) StopDiscovery(ctx context.Context) error {
	err := s.host.StopDiscovery(ctx)
	s.dropFoundListener()
	return fail(err)
}

// Devices returns a copy of the discovered device list.
func (s *Session) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// State returns the identifiers selected so far.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) lookup(name string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// ConnectByName connects to a discovered device. It returns
// ErrDeviceNotFound without calling the host if name was never seen.
func (s *Session) ConnectByName(ctx context.Context, name string) error {
	dev, ok := s.lookup(name)
	if !ok {
		return ErrDeviceNotFound
	}

	s.mu.Lock()
	s.state = SessionState{DeviceID: dev.ID}
	s.mu.Unlock()

	if err := s.host.Connect(ctx, dev.ID); err != nil {
		slog.Warn("[BLE] connect failed", "name", name, "device", dev.ID, "error", err)
		return fail(err)
	}
	slog.Info("[BLE] connected", "name", name, "device", dev.ID)
	return nil
}

// Disconnect closes the connection to the current device.
func (s *Session) Disconnect(ctx context.Context) error {
	return fail(s.host.Disconnect(ctx, s.State().DeviceID))
}

// OnDisconnect calls fn whenever the current device reports that it is no
// longer connected.
func (s *Session) OnDisconnect(fn func()) ListenerID {
	id := s.host.OnConnectionStateChange(func(cs ConnectionState) {
		if cs.Connected || !s.ownsDevice(cs.DeviceID) {
			return
		}
		slog.Warn("[BLE] disconnected", "device", cs.DeviceID)
		fn()
	})
	s.mu.Lock()
	s.watchers[id] = struct{}{}
	s.mu.Unlock()
	return id
}

// OffDisconnect removes a listener added with OnDisconnect.
func (s *Session) OffDisconnect(id ListenerID) bool {
	s.mu.Lock()
	_, ok := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()
	if ok {
		s.host.OffConnectionStateChange(id)
	}
	return ok
}

// ownsDevice reports whether events for deviceID belong to this session.
// Events without a device id, or arriving before a device is chosen, are
// accepted.
func (s *Session) ownsDevice(deviceID string) bool {
	cur := s.State().DeviceID
	return cur == "" || deviceID == "" || cur == deviceID
}

// DiscoverService selects the first service whose UUID prefix matches
// Options.ServicePrefix.
func (s *Session) DiscoverService(ctx context.Context) error {
	deviceID := s.State().DeviceID
	svcs, err := s.host.Services(ctx, deviceID)
	if err != nil {
		return fail(err)
	}
	slog.Debug("[BLE] device services", "device", deviceID, "count", len(svcs))

	for _, svc := range svcs {
		if p, ok := protocol.UUIDPrefix(svc.UUID); ok && p == s.opts.ServicePrefix {
			s.mu.Lock()
			s.state.ServiceID = svc.UUID
			s.mu.Unlock()
			return nil
		}
	}
	return ErrServiceNotFound
}

// DiscoverCharacteristics selects the read and write characteristics of
// the selected service by their UUID prefixes.
func (s *Session) DiscoverCharacteristics(ctx context.Context) error {
	st := s.State()
	chars, err := s.host.Characteristics(ctx, st.DeviceID, st.ServiceID)
	if err != nil {
		return fail(err)
	}
	slog.Debug("[BLE] device characteristics", "service", st.ServiceID, "count", len(chars))
	if len(chars) == 0 {
		return ErrNoCharacteristics
	}

	read, ok := findCharacteristic(chars, s.opts.ReadCharPrefix)
	if !ok {
		return ErrReadCharacteristicNotFound
	}
	s.mu.Lock()
	s.state.ReadCharID = read
	s.mu.Unlock()

	write, ok := findCharacteristic(chars, s.opts.WriteCharPrefix)
	if !ok {
		return ErrWriteCharacteristicNotFound
	}
	s.mu.Lock()
	s.state.WriteCharID = write
	s.mu.Unlock()
	return nil
}

func findCharacteristic(chars []Characteristic, prefix uint32) (string, bool) {
	for _, c := range chars {
		if p, ok := protocol.UUIDPrefix(c.UUID); ok && p == prefix {
			return c.UUID, true
		}
	}
	return "", false
}

// Subscribe enables notifications on the read characteristic.
func (s *Session) Subscribe(ctx context.Context) error {
	st := s.State()
	return fail(s.host.Notify(ctx, st.DeviceID, st.ServiceID, st.ReadCharID, true))
}

// SetMTU negotiates the link MTU and returns the value the host settled on.
// Hosts without MTU negotiation return ErrNotSupported.
func (s *Session) SetMTU(ctx context.Context, mtu int) (int, error) {
	if !s.host.Capabilities().SetMTU {
		return 0, ErrNotSupported
	}
	got, err := s.host.SetMTU(ctx, s.State().DeviceID, mtu)
	if err != nil {
		return 0, fail(err)
	}
	slog.Debug("[BLE] mtu negotiated", "requested", mtu, "mtu", got)
	return got, nil
}

// Connect runs the full connection sequence: restart the adapter, connect
// to name, select the service and characteristics, then subscribe to the
// read characteristic. The first failing step stops the sequence; if a
// connection was already made it is closed again. The returned error
// carries a stage code (CodeConnectFailed..CodeSubscribeFailed) and
// embeds the underlying code and message in its text.
func (s *Session) Connect(ctx context.Context, name string) error {
	if err := s.CloseAdapter(ctx); err != nil {
		slog.Debug("[BLE] close adapter before connect", "error", err)
	}
	if err := s.OpenAdapter(ctx); err != nil {
		slog.Debug("[BLE] open adapter before connect", "error", err)
	}

	if err := s.ConnectByName(ctx, name); err != nil {
		return stageError(CodeConnectFailed, "connect failed", err)
	}
	if err := s.DiscoverService(ctx); err != nil {
		s.abortConnect(ctx)
		return stageError(CodeServiceFailed, "get services failed", err)
	}
	if err := s.DiscoverCharacteristics(ctx); err != nil {
		s.abortConnect(ctx)
		return stageError(CodeCharacteristicsFailed, "get characteristics failed", err)
	}
	if err := s.Subscribe(ctx); err != nil {
		s.abortConnect(ctx)
		return stageError(CodeSubscribeFailed, "subscribe failed", err)
	}

	slog.Info("[BLE] ready", "name", name, "service", s.State().ServiceID)
	return nil
}

func (s *Session) abortConnect(ctx context.Context) {
	if err := s.Disconnect(ctx); err != nil {
		slog.Warn("[BLE] disconnect after failed connect", "error", err)
	}
}

// OnReceive calls fn for every value pushed by the device. text holds one
// character per received byte.
func (s *Session) OnReceive(fn func(text string, raw []byte)) ListenerID {
	id := s.host.OnValueChange(func(v Value) {
		if !s.ownsDevice(v.DeviceID) {
			return
		}
		fn(protocol.DecodeString(v.Data), v.Data)
	})
	s.mu.Lock()
	s.receivers[id] = struct{}{}
	s.mu.Unlock()
	return id
}

// OffReceive removes a listener added with OnReceive. It returns false,
// and changes nothing, if id is unknown.
func (s *Session) OffReceive(id ListenerID) bool {
	s.mu.Lock()
	_, ok := s.receivers[id]
	delete(s.receivers, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.host.OffValueChange(id)
	return true
}

// ReceiveUntil waits until match accepts a received value and returns
// true, or returns false once timeout elapses or ctx is done. A timeout
// <= 0 uses Options.ReceiveTimeout. The internal listener is always
// removed before returning.
func (s *Session) ReceiveUntil(ctx context.Context, match func(text string, raw []byte) bool, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = s.opts.ReceiveTimeout
	}

	matched := make(chan struct{})
	var once sync.Once
	id := s.host.OnValueChange(func(v Value) {
		if !s.ownsDevice(v.DeviceID) {
			return
		}
		if match(protocol.DecodeString(v.Data), v.Data) {
			once.Do(func() { close(matched) })
		}
	})
	defer s.host.OffValueChange(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-matched:
		return true
	case <-timer.C:
		slog.Debug("[BLE] receive timed out", "timeout", timeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// SendString writes str to the write characteristic. With isHex the string
// is parsed as two-digit hex octets, otherwise each character becomes one
// byte. An empty string writes nothing.
func (s *Session) SendString(ctx context.Context, str string, isHex bool) error {
	if str == "" {
		return nil
	}
	if !isHex {
		return s.write(ctx, protocol.EncodeString(str))
	}
	data, err := protocol.DecodeHex(str)
	if err != nil {
		slog.Warn("[BLE] refusing to send", "error", err)
		return ErrInvalidHex
	}
	return s.write(ctx, data)
}

// SendBytes writes data unchanged to the write characteristic.
func (s *Session) SendBytes(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return s.write(ctx, data)
}

func (s *Session) write(ctx context.Context, data []byte) error {
	st := s.State()
	chunks := protocol.Chunk(data, s.opts.ChunkSize)
	for i, chunk := range chunks {
		if err := s.host.Write(ctx, st.DeviceID, st.ServiceID, st.WriteCharID, chunk); err != nil {
			return fail(err)
		}
		if i < len(chunks)-1 && s.opts.InterChunkDelay > 0 {
			if err := timeutil.Sleep(ctx, s.opts.InterChunkDelay); err != nil {
				return fail(err)
			}
		}
	}
	return nil
}

// Close stops discovery and removes every listener the session added,
// then disconnects the current device if there is one.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	discovering := s.foundID != 0
	receivers := s.receivers
	watchers := s.watchers
	s.receivers = make(map[ListenerID]struct{})
	s.watchers = make(map[ListenerID]struct{})
	deviceID := s.state.DeviceID
	s.mu.Unlock()

	if discovering {
		if err := s.StopDiscovery(ctx); err != nil {
			slog.Warn("[BLE] stop discovery on close", "error", err)
		}
	}
	for id := range receivers {
		s.host.OffValueChange(id)
	}
	for id := range watchers {
		s.host.OffConnectionStateChange(id)
	}
	if len(receivers) > 0 {
		slog.Debug("[BLE] closing with receive listeners", "count", len(receivers))
	}

	if deviceID == "" {
		return nil
	}
	return s.Disconnect(ctx)
}
