package utils

import (
	"testing"
	"time"
)

func TestTimeRangeContains(t *testing.T) {
	tr := TimeRange{
		Start: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"inside", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), true},
		{"at start", tr.Start, true},
		{"at end", tr.End, true},
		{"before", time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC), false},
		{"after", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.Contains(tt.t); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestTimeRangeDuration(t *testing.T) {
	tr := TimeRange{
		Start: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	if got := tr.Duration(); got != 10*time.Hour {
		t.Errorf("Duration() = %v, want 10h", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{5*time.Minute + 30*time.Second, "5m30s"},
		{2*time.Hour + 15*time.Minute, "2h15m0s"},
		{-3 * time.Second, "3s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestUnixMillisRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ms := now.UnixMilli()
	got := FromUnixMillis(ms)
	if !got.Equal(now) {
		t.Errorf("FromUnixMillis(UnixMilli()) = %v, want %v", got, now)
	}
}
