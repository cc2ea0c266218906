package timeutil

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)
	if got, want := FormatTime(ts), "2024/03/05 07:08:09"; got != want {
		t.Errorf("FormatTime() = %q, want %q", got, want)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "00"},
		{7, "07"},
		{10, "10"},
		{123, "123"},
		{-5, "-5"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n); got != tt.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		name    string
		seconds int64
		layout  string
		want    string
	}{
		{"hour minute second", 3661, "hh:mm:ss", "01:01:01"},
		{"default layout", 3661, "", "01:01:01"},
		{"zero", 0, "hh:mm:ss", "00:00:00"},
		{"minutes wrap", 3599, "hh:mm:ss", "00:59:59"},
		{"hours not wrapped", 100 * 3600, "hh:mm:ss", "100:00:00"},
		{"single width", 75, "m:ss", "1:15"},
		{"wide token", 5, "sss", "005"},
		{"literal text kept", 125, "mm min ss s", "02 min 05 s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSeconds(tt.seconds, tt.layout); got != tt.want {
				t.Errorf("FormatSeconds(%d, %q) = %q, want %q", tt.seconds, tt.layout, got, tt.want)
			}
		})
	}
}

func TestThrottleDropsCallsInWindow(t *testing.T) {
	var calls atomic.Int32
	var last atomic.Int32
	fn := Throttle(func(v int) {
		calls.Add(1)
		last.Store(int32(v))
	}, time.Hour)

	fn(1)
	fn(2)
	fn(3)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if last.Load() != 1 {
		t.Errorf("ran with %d, want the first call's argument 1", last.Load())
	}
}

func TestThrottleRunsAgainAfterDelay(t *testing.T) {
	var calls atomic.Int32
	fn := Throttle(func(struct{}) { calls.Add(1) }, 20*time.Millisecond)

	fn(struct{}{})
	time.Sleep(40 * time.Millisecond)
	fn(struct{}{})

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestThrottleZeroDelay(t *testing.T) {
	var calls atomic.Int32
	fn := Throttle(func(int) { calls.Add(1) }, 0)
	fn(1)
	fn(2)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Sleep returned after %s, want >= 20ms", elapsed)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
}
