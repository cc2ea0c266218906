// Command easyble scans for a BLE serial peripheral, connects to it by
// name, and exchanges data with it.
//
// Usage:
//
//	easyble                               list nearby devices
//	easyble --name HC-08                  connect and print what the device sends
//	easyble --name HC-08 --send 0A1B --hex --expect OK
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/chaz8081/easyble/internal/ble"
	"github.com/chaz8081/easyble/internal/config"
	"github.com/chaz8081/easyble/internal/timeutil"
)

func main() {
	// CLI flags
	configPath := pflag.String("config", "", "path to config file (default: ~/.config/easyble/config.yaml)")
	writeDefault := pflag.Bool("write-default", false, "write the default config file and exit")
	name := pflag.StringP("name", "n", "", "device name to connect to (empty: list devices)")
	scan := pflag.Duration("scan", 0, "how long to scan for devices")
	send := pflag.StringP("send", "s", "", "data to send after connecting")
	isHex := pflag.Bool("hex", false, "treat --send as hex octets")
	expect := pflag.StringP("expect", "e", "", "wait for a reply containing this text")
	timeout := pflag.Duration("timeout", 0, "how long to wait for --expect")
	mtu := pflag.Int("mtu", 0, "request this MTU after connecting")
	pflag.Parse()

	if *writeDefault {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("write default config", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}

	if pflag.CommandLine.Changed("name") {
		cfg.BLE.DeviceName = *name
	}
	if pflag.CommandLine.Changed("scan") {
		cfg.BLE.ScanTimeout = *scan
	}
	if pflag.CommandLine.Changed("timeout") {
		cfg.BLE.ReceiveTimeout = *timeout
	}
	if pflag.CommandLine.Changed("mtu") {
		cfg.BLE.MTU = *mtu
	}

	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host := ble.NewTinyGoHost()
	session := ble.NewSession(host, sessionOptions(cfg.BLE))

	if err := session.OpenAdapter(ctx); err != nil {
		fatal("open adapter", err)
	}
	if err := session.AdapterAvailable(ctx); err != nil {
		fatal("adapter", err)
	}

	if cfg.BLE.DeviceName == "" {
		listDevices(ctx, session, cfg.BLE.ScanTimeout)
		return
	}

	if err := run(ctx, host, session, cfg, *send, *isHex, *expect); err != nil {
		_ = session.Close(context.Background())
		fatal("easyble", err)
	}
	if err := session.Close(context.Background()); err != nil {
		slog.Warn("close session", "error", err)
	}
}

// sessionOptions maps the ble config section onto session options.
func sessionOptions(c config.BLEConfig) ble.Options {
	return ble.Options{
		ServicePrefix:   uint32(c.ServicePrefix),
		ReadCharPrefix:  uint32(c.ReadCharPrefix),
		WriteCharPrefix: uint32(c.WriteCharPrefix),
		ReceiveTimeout:  c.ReceiveTimeout,
		ChunkSize:       c.ChunkSize,
		InterChunkDelay: c.InterChunkDelay,
	}
}

// listDevices scans for d and prints every named device seen.
func listDevices(ctx context.Context, session *ble.Session, d time.Duration) {
	fmt.Printf("Scanning for %s...\n", timeutil.FormatSeconds(int64(d/time.Second), "mm:ss"))

	sightings := newSightingLog(2 * time.Second)
	if err := session.StartDiscovery(ctx, sightings.record); err != nil {
		fatal("start discovery", err)
	}
	_ = timeutil.Sleep(ctx, d)
	if err := session.StopDiscovery(context.Background()); err != nil {
		slog.Warn("stop discovery", "error", err)
	}

	devices := session.Devices()
	fmt.Printf("\n%d device(s) found:\n", len(devices))
	for _, dev := range devices {
		fmt.Printf("  %-24s %4d dBm  %s\n", dev.Name, dev.RSSI, dev.ID)
	}
}

// run connects to the configured device, sends data and waits for a reply.
func run(ctx context.Context, host *ble.TinyGoHost, session *ble.Session, cfg *config.Config, send string, isHex bool, expect string) error {
	name := cfg.BLE.DeviceName
	if err := waitForDevice(ctx, session, name, cfg.BLE.ScanTimeout); err != nil {
		return err
	}

	start := time.Now()
	if err := session.Connect(ctx, name); err != nil {
		return err
	}
	fmt.Printf("Connected to %s in %s\n", name, time.Since(start).Round(time.Millisecond))

	lost := make(chan struct{})
	var lostOnce sync.Once
	session.OnDisconnect(func() {
		lostOnce.Do(func() { close(lost) })
	})

	if cfg.BLE.MTU > 0 {
		got, err := session.SetMTU(ctx, cfg.BLE.MTU)
		if err != nil {
			slog.Warn("mtu negotiation", "error", err)
		} else {
			slog.Info("mtu negotiated", "mtu", got)
		}
	}
	st := session.State()
	if current, err := host.CurrentMTU(st.DeviceID, st.ServiceID, st.WriteCharID); err == nil {
		slog.Info("link mtu", "mtu", current)
	}

	session.OnReceive(func(text string, raw []byte) {
		fmt.Printf("%s  <- %q  % X\n", timeutil.FormatTime(time.Now()), text, raw)
	})

	if send != "" {
		if err := session.SendString(ctx, send, isHex); err != nil {
			return err
		}
		fmt.Printf("%s  -> %s\n", timeutil.FormatTime(time.Now()), send)
	}

	if expect != "" {
		waitStart := time.Now()
		ok := session.ReceiveUntil(ctx, func(text string, _ []byte) bool {
			return strings.Contains(text, expect)
		}, cfg.BLE.ReceiveTimeout)
		waited := timeutil.FormatSeconds(int64(time.Since(waitStart)/time.Second), "mm:ss")
		if !ok {
			return fmt.Errorf("no reply containing %q after %s", expect, waited)
		}
		fmt.Printf("Got %q after %s\n", expect, waited)
		return nil
	}

	// Nothing to wait for: print incoming data until interrupted.
	fmt.Println("Listening. Ctrl+C to quit.")
	select {
	case <-ctx.Done():
		fmt.Println("Goodbye!")
	case <-lost:
		return fmt.Errorf("device %s disconnected", name)
	}
	return nil
}

// waitForDevice scans until name is seen or d elapses.
func waitForDevice(ctx context.Context, session *ble.Session, name string, d time.Duration) error {
	found := make(chan struct{})
	var once sync.Once
	sightings := newSightingLog(2 * time.Second)

	err := session.StartDiscovery(ctx, func(seen string, rssi int) {
		sightings.record(seen, rssi)
		if seen == name {
			once.Do(func() { close(found) })
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := session.StopDiscovery(context.Background()); err != nil {
			slog.Warn("stop discovery", "error", err)
		}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-found:
		return nil
	case <-timer.C:
		return fmt.Errorf("device %q not found within %s", name, d)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sightingLog prints the first sighting of each device and throttles the
// signal strength updates that follow.
type sightingLog struct {
	every time.Duration

	mu      sync.Mutex
	updates map[string]func(int)
}

func newSightingLog(every time.Duration) *sightingLog {
	return &sightingLog{every: every, updates: make(map[string]func(int))}
}

func (l *sightingLog) record(name string, rssi int) {
	l.mu.Lock()
	update, ok := l.updates[name]
	if !ok {
		update = timeutil.Throttle(func(rssi int) {
			slog.Debug("device seen", "name", name, "rssi", rssi)
		}, l.every)
		l.updates[name] = update
	}
	l.mu.Unlock()

	if !ok {
		fmt.Printf("  found %-24s %4d dBm\n", name, rssi)
	}
	update(rssi)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("config loaded", "path", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	slog.Info("no config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	device := cfg.BLE.DeviceName
	if device == "" {
		device = "(scan only)"
	}
	fmt.Println("=== easyble ===")
	fmt.Printf("  Device:   %s\n", device)
	fmt.Printf("  Service:  0x%04X  read 0x%04X  write 0x%04X\n",
		uint32(cfg.BLE.ServicePrefix), uint32(cfg.BLE.ReadCharPrefix), uint32(cfg.BLE.WriteCharPrefix))
	fmt.Printf("  Timeouts: scan %s, receive %s\n", cfg.BLE.ScanTimeout, cfg.BLE.ReceiveTimeout)
	if cfg.BLE.ChunkSize > 0 {
		fmt.Printf("  Chunks:   %d bytes every %s\n", cfg.BLE.ChunkSize, cfg.BLE.InterChunkDelay)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===============")
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
