package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"modidx/internal/modidx"
)

// counterValue reads one sample from the registry.
func counterValue(t *testing.T, m *Metrics, name, labelValue string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if labelValue == "" {
				return metric.GetCounter().GetValue()
			}
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == labelValue {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMetrics_ObserveScan(t *testing.T) {
	m := New()

	m.ObserveScan(&modidx.ScanSummary{Added: 3, Changed: 1, Removed: 2, Skipped: 1, Duration: time.Second}, nil)
	m.ObserveScan(&modidx.ScanSummary{Added: 1}, nil)
	m.ObserveScan(nil, errors.New("boom"))

	tests := []struct {
		name  string
		label string
		want  float64
	}{
		{"modidx_scans_total", "ok", 2},
		{"modidx_scans_total", "failed", 1},
		{"modidx_scan_files_total", "added", 4},
		{"modidx_scan_files_total", "changed", 1},
		{"modidx_scan_files_total", "removed", 2},
		{"modidx_scan_files_total", "skipped", 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, m, tt.name, tt.label); got != tt.want {
			t.Errorf("%s{%s} = %v, want %v", tt.name, tt.label, got, tt.want)
		}
	}
}

func TestMetrics_TaskSubmitted(t *testing.T) {
	m := New()
	m.TaskSubmitted()
	m.TaskSubmitted()

	if got := counterValue(t, m, "modidx_tasks_submitted_total", ""); got != 2 {
		t.Errorf("modidx_tasks_submitted_total = %v, want 2", got)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	t.Run("writes exposition format", func(t *testing.T) {
		m := New()
		m.ObserveScan(&modidx.ScanSummary{Added: 1}, nil)
		path := filepath.Join(t.TempDir(), "textfile", "modidx.prom")

		if err := m.WriteTextfile(path); err != nil {
			t.Fatalf("WriteTextfile() error = %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading textfile: %v", err)
		}
		if !strings.Contains(string(data), `modidx_scans_total{result="ok"} 1`) {
			t.Errorf("textfile missing scan counter:\n%s", data)
		}
	})

	t.Run("empty path is a no-op", func(t *testing.T) {
		if err := New().WriteTextfile(""); err != nil {
			t.Errorf("WriteTextfile(\"\") error = %v", err)
		}
	})
}
