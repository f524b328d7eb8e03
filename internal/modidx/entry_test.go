package modidx_test

import (
	"testing"
	"time"

	"modidx/internal/modidx"
)

func TestQuickSignature(t *testing.T) {
	tests := []struct {
		size  int64
		mtime float64
		want  string
	}{
		{100, 1700000000, "100:1700000000"},
		{0, 1700000000.25, "0:1700000000.25"},
		{50, 0, "50:0"},
	}
	for _, tt := range tests {
		if got := modidx.QuickSignature(tt.size, tt.mtime); got != tt.want {
			t.Errorf("QuickSignature(%d, %v) = %q, want %q", tt.size, tt.mtime, got, tt.want)
		}
	}
}

func TestMTimeSeconds(t *testing.T) {
	ts := time.Unix(1700000000, 500_000_000)
	if got := modidx.MTimeSeconds(ts); got != 1700000000.5 {
		t.Errorf("MTimeSeconds() = %v, want 1700000000.5", got)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"", "normal", "changed", "missing"} {
		if _, err := modidx.ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q) error = %v", s, err)
		}
	}
	if _, err := modidx.ParseStatus("deleted"); err == nil {
		t.Error("ParseStatus(\"deleted\") expected error")
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 2, 29, 23, 59, 59, 900_000_000, time.UTC)

	formatted := modidx.FormatTimestamp(ts)
	parsed, err := modidx.ParseTimestamp(formatted)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if !parsed.Equal(ts.Truncate(time.Second)) {
		t.Errorf("round trip = %v, want %v", parsed, ts.Truncate(time.Second))
	}
	if len(formatted) != len(modidx.TimestampLayout) {
		t.Errorf("FormatTimestamp() = %q, want layout %q", formatted, modidx.TimestampLayout)
	}
}
