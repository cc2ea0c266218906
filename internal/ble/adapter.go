// Package ble provides a session adapter for talking to a single BLE
// peripheral over a host BLE API: discovery, connection setup, service and
// characteristic selection, notifications and writes.
package ble

import "context"

// Default identifier prefixes: the numeric value of the first group of the
// service and characteristic UUIDs (0000FFE0-0000-1000-8000-00805F9B34FB).
const (
	DefaultServicePrefix   uint32 = 0xFFE0
	DefaultReadCharPrefix  uint32 = 0xFFE1
	DefaultWriteCharPrefix uint32 = 0xFFE1
)

// ListenerID identifies a registered listener so it can be removed later.
type ListenerID uint64

// Device is a peripheral reported by host discovery.
type Device struct {
	ID        string
	Name      string
	LocalName string
	RSSI      int
}

// DisplayName returns the advertised name, falling back to the local name.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.LocalName
}

// AdapterState reports whether the local adapter can be used.
type AdapterState struct {
	Available   bool
	Discovering bool
}

// ConnectionState is delivered when a link to a device goes up or down.
type ConnectionState struct {
	DeviceID  string
	Connected bool
}

// Service is a GATT service of a connected device.
type Service struct {
	UUID string
}

// Characteristic is a GATT characteristic of a service.
type Characteristic struct {
	UUID string
}

// Value is a characteristic value change pushed by the peripheral.
type Value struct {
	DeviceID         string
	ServiceID        string
	CharacteristicID string
	Data             []byte
}

// Capabilities describes optional host features.
type Capabilities struct {
	// SetMTU is true when the host can negotiate the ATT MTU.
	SetMTU bool
}

// Host abstracts the platform BLE API so the session logic can run against
// a real radio or a scripted fake.
type Host interface {
	OpenAdapter(ctx context.Context) error
	CloseAdapter(ctx context.Context) error
	AdapterState(ctx context.Context) (AdapterState, error)

	// StartDiscovery begins scanning. Found devices are delivered to the
	// listeners registered with OnDeviceFound.
	StartDiscovery(ctx context.Context, allowDuplicates bool) error
	StopDiscovery(ctx context.Context) error
	OnDeviceFound(fn func(Device)) ListenerID
	OffDeviceFound(id ListenerID)

	Connect(ctx context.Context, deviceID string) error
	Disconnect(ctx context.Context, deviceID string) error
	OnConnectionStateChange(fn func(ConnectionState)) ListenerID
	OffConnectionStateChange(id ListenerID)

	Services(ctx context.Context, deviceID string) ([]Service, error)
	Characteristics(ctx context.Context, deviceID, serviceID string) ([]Characteristic, error)

	Write(ctx context.Context, deviceID, serviceID, charID string, data []byte) error
	// Notify enables or disables value change notifications. Values arrive
	// on the listeners registered with OnValueChange.
	Notify(ctx context.Context, deviceID, serviceID, charID string, enable bool) error
	OnValueChange(fn func(Value)) ListenerID
	OffValueChange(id ListenerID)

	// SetMTU requests an MTU and returns the negotiated value.
	SetMTU(ctx context.Context, deviceID string, mtu int) (int, error)
	Capabilities() Capabilities
}
