package timerange

import (
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 1, 20, 12, 30, 45, 0, time.UTC)

func TestResolveRange_RelativeExpressions(t *testing.T) {
	cases := []struct {
		name     string
		from     string
		to       string
		wantFrom time.Time
		wantTo   time.Time
	}{
		{"seven_days", "-7d", "now", fixedNow.Add(-7 * 24 * time.Hour), fixedNow},
		{"one_day", "-1d", "now", fixedNow.Add(-24 * time.Hour), fixedNow},
		{"twelve_hours", "-12h", "now", fixedNow.Add(-12 * time.Hour), fixedNow},
		{"thirty_minutes", "-30m", "now", fixedNow.Add(-30 * time.Minute), fixedNow},
		{"ninety_seconds", "-90s", "now", fixedNow.Add(-90 * time.Second), fixedNow},
		{"to_defaults_to_now", "-1h", "", fixedNow.Add(-time.Hour), fixedNow},
		{"relative_both", "-2h", "-1h", fixedNow.Add(-2 * time.Hour), fixedNow.Add(-time.Hour)},
		{
			"absolute_iso", "2026-01-01T00:00:00", "2026-01-02T00:00:00",
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			window, err := ResolveRange(tc.from, tc.to, fixedNow)
			if err != nil {
				t.Fatalf("ResolveRange returned error: %v", err)
			}
			if !window.From.Equal(tc.wantFrom) {
				t.Errorf("from mismatch: got %v want %v", window.From, tc.wantFrom)
			}
			if !window.To.Equal(tc.wantTo) {
				t.Errorf("to mismatch: got %v want %v", window.To, tc.wantTo)
			}
			if !window.From.Before(window.To) {
				t.Errorf("expected from < to, got %v >= %v", window.From, window.To)
			}
		})
	}
}

func TestResolveRange_Deterministic(t *testing.T) {
	first, err := ResolveRange("-7d", "now", fixedNow)
	if err != nil {
		t.Fatalf("ResolveRange returned error: %v", err)
	}
	second, err := ResolveRange("-7d", "now", fixedNow)
	if err != nil {
		t.Fatalf("ResolveRange returned error: %v", err)
	}
	if !first.From.Equal(second.From) || !first.To.Equal(second.To) {
		t.Errorf("expected identical windows, got %v vs %v", first, second)
	}
}

func TestResolveRange_InvalidExpressions(t *testing.T) {
	for _, expr := range []string{"-7x", "yesterday", "7d", "-d", ""} {
		if _, err := ResolveRange(expr, "now", fixedNow); !errors.Is(err, ErrInvalidExpression) {
			t.Errorf("expression %q: expected ErrInvalidExpression, got %v", expr, err)
		}
	}
}

func TestResolveRange_InvertedWindow(t *testing.T) {
	if _, err := ResolveRange("now", "-1h", fixedNow); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}
	if _, err := ResolveRange("now", "now", fixedNow); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("equal bounds: expected ErrInvalidWindow, got %v", err)
	}
}

func TestDayWindow_UTC(t *testing.T) {
	day, err := ParseDay("2026-01-20")
	if err != nil {
		t.Fatalf("ParseDay returned error: %v", err)
	}

	window, err := DayWindow(day, "UTC")
	if err != nil {
		t.Fatalf("DayWindow returned error: %v", err)
	}

	wantFrom := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC)
	if !window.From.Equal(wantFrom) || !window.To.Equal(wantTo) {
		t.Errorf("unexpected window: got [%v, %v) want [%v, %v)", window.From, window.To, wantFrom, wantTo)
	}
}

func TestDayWindow_Timezone(t *testing.T) {
	day, err := ParseDay("2026-01-20")
	if err != nil {
		t.Fatalf("ParseDay returned error: %v", err)
	}

	window, err := DayWindow(day, "America/New_York")
	if err != nil {
		t.Fatalf("DayWindow returned error: %v", err)
	}

	// 2026年1月纽约为 EST（UTC-5）。
	wantFrom := time.Date(2026, 1, 20, 5, 0, 0, 0, time.UTC)
	wantTo := time.Date(2026, 1, 21, 5, 0, 0, 0, time.UTC)
	if !window.From.Equal(wantFrom) || !window.To.Equal(wantTo) {
		t.Errorf("unexpected window: got [%v, %v) want [%v, %v)", window.From, window.To, wantFrom, wantTo)
	}
}

func TestDayWindow_UnknownTimezone(t *testing.T) {
	day, _ := ParseDay("2026-01-20")
	if _, err := DayWindow(day, "Mars/Olympus"); !errors.Is(err, ErrInvalidExpression) {
		t.Errorf("expected ErrInvalidExpression, got %v", err)
	}
}

func TestParseDay_Invalid(t *testing.T) {
	for _, value := range []string{"2026-13-40", "20260120", "not-a-date"} {
		if _, err := ParseDay(value); !errors.Is(err, ErrInvalidExpression) {
			t.Errorf("value %q: expected ErrInvalidExpression, got %v", value, err)
		}
	}
}

func TestWindowISO(t *testing.T) {
	window := Window{
		From: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
	}
	if got := window.FromISO(); got != "2026-01-20T00:00:00" {
		t.Errorf("FromISO: got %q", got)
	}
	if got := window.ToISO(); got != "2026-01-21T00:00:00" {
		t.Errorf("ToISO: got %q", got)
	}
}
