// Package timeutil holds small date, duration and timing helpers.
package timeutil

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSecondsLayout is the layout FormatSeconds uses when none is given.
const DefaultSecondsLayout = "hh:mm:ss"

// FormatTime renders t as "YYYY/MM/DD hh:mm:ss".
func FormatTime(t time.Time) string {
	date := []string{FormatNumber(t.Year()), FormatNumber(int(t.Month())), FormatNumber(t.Day())}
	clock := []string{FormatNumber(t.Hour()), FormatNumber(t.Minute()), FormatNumber(t.Second())}
	return strings.Join(date, "/") + " " + strings.Join(clock, ":")
}

// FormatNumber pads n with a leading zero when it is a single character.
func FormatNumber(n int) string {
	s := strconv.Itoa(n)
	if len(s) >= 2 {
		return s
	}
	return "0" + s
}

// Throttle returns a function that calls fn at most once per delay. The
// first call runs immediately; calls made before delay has passed since the
// last run are dropped. A delay <= 0 disables throttling.
func Throttle[T any](fn func(T), delay time.Duration) func(T) {
	if delay <= 0 {
		return fn
	}
	s := &rate.Sometimes{Interval: delay}
	return func(v T) {
		s.Do(func() { fn(v) })
	}
}

type secondsToken struct {
	re    *regexp.Regexp
	value func(seconds int64) int64
}

var secondsTokens = []secondsToken{
	{regexp.MustCompile(`h+`), func(v int64) int64 { return v / 3600 }},
	{regexp.MustCompile(`m+`), func(v int64) int64 { return v / 60 % 60 }},
	{regexp.MustCompile(`s+`), func(v int64) int64 { return v % 60 }},
}

// FormatSeconds renders a number of seconds using layout. The first run of
// 'h', 'm' and 's' is replaced by hours, minutes and seconds, zero-padded
// to the width of the run. An empty layout means DefaultSecondsLayout.
//
//	FormatSeconds(3661, "hh:mm:ss") == "01:01:01"
//	FormatSeconds(75, "m:ss")       == "1:15"
func FormatSeconds(seconds int64, layout string) string {
	if layout == "" {
		layout = DefaultSecondsLayout
	}
	for _, tok := range secondsTokens {
		run := tok.re.FindString(layout)
		if run == "" {
			continue
		}
		v := strconv.FormatInt(tok.value(seconds), 10)
		if pad := len(run) - len(v); pad > 0 {
			v = strings.Repeat("0", pad) + v
		}
		layout = strings.Replace(layout, run, v, 1)
	}
	return layout
}

// Sleep waits for d, returning ctx.Err() if ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
