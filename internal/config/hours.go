package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a half-open [Start, End) span of minutes after local midnight.
type Window struct {
	Start int
	End   int
}

// Contains reports whether minute-of-day m falls inside the window.
func (w Window) Contains(m int) bool {
	return m >= w.Start && m < w.End
}

// Hours is the parsed form of BusinessHoursConfig.
type Hours struct {
	Days    map[time.Weekday]bool
	Windows []Window
}

// Open reports whether local time t is inside business hours.
func (h Hours) Open(t time.Time) bool {
	if !h.Days[t.Weekday()] {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	for _, w := range h.Windows {
		if w.Contains(m) {
			return true
		}
	}
	return false
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Schedule parses the configured days and windows.
func (b BusinessHoursConfig) Schedule() (Hours, error) {
	h := Hours{Days: make(map[time.Weekday]bool, len(b.Days))}
	for _, d := range b.Days {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return Hours{}, fmt.Errorf("unknown weekday %q", d)
		}
		h.Days[wd] = true
	}
	for _, raw := range b.Windows {
		w, err := parseWindow(raw)
		if err != nil {
			return Hours{}, err
		}
		h.Windows = append(h.Windows, w)
	}
	return h, nil
}

func parseWindow(raw string) (Window, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(raw), "-")
	if !ok {
		return Window{}, fmt.Errorf("window %q must look like HH:MM-HH:MM", raw)
	}
	start, err := parseClock(from)
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", raw, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return Window{}, fmt.Errorf("window %q: %w", raw, err)
	}
	if end <= start {
		return Window{}, fmt.Errorf("window %q ends before it starts", raw)
	}
	return Window{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}
