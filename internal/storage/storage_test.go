package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sewerwatch/sewerwatch/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(500, ":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(cycleID string, cycleNumber int) *models.Report {
	ts := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC).Add(time.Duration(cycleNumber) * time.Minute)
	return &models.Report{
		CycleID:        cycleID,
		CycleNumber:    cycleNumber,
		Timestamp:      ts,
		TotalRecords:   120,
		TotalInvalid:   3,
		TotalAlerts:    2,
		CriticalAlerts: 1,
		Stats: models.BatchStats{
			FlowRate: models.ParameterStats{Count: 120, Mean: 48.5, StdDev: 4.2, Min: 31.0, Max: 62.7},
			PHLevel:  models.ParameterStats{Count: 120, Mean: 7.1, StdDev: 0.3, Min: 6.2, Max: 7.9},
		},
		Alerts: []models.Alert{
			{
				ID:         cycleID + "-a1",
				SensorID:   "S1",
				Kind:       models.KindCriticalLeak,
				Value:      108,
				Timestamp:  ts,
				Location:   models.Location{X: -46.63, Y: -23.55},
				ProducedBy: "worker-1",
			},
			{
				ID:         cycleID + "-a2",
				SensorID:   "S2",
				Kind:       models.KindHighBlockage,
				Value:      91.5,
				Timestamp:  ts,
				ProducedBy: "worker-2",
			},
		},
		WorkersUsed: 3,
		Duration:    420 * time.Millisecond,
	}
}

func TestSaveAndGetReport(t *testing.T) {
	s := newTestStorage(t)

	want := sampleReport("cycle-1", 1)
	if err := s.SaveReport(want); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := s.GetReport("cycle-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}

	if got.CycleNumber != want.CycleNumber {
		t.Errorf("cycle number = %d, want %d", got.CycleNumber, want.CycleNumber)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.TotalRecords != want.TotalRecords || got.TotalInvalid != want.TotalInvalid {
		t.Errorf("record counts = %d/%d, want %d/%d",
			got.TotalRecords, got.TotalInvalid, want.TotalRecords, want.TotalInvalid)
	}
	if got.CriticalAlerts != 1 {
		t.Errorf("critical alerts = %d, want 1", got.CriticalAlerts)
	}
	if got.Stats.FlowRate.Mean != 48.5 || got.Stats.FlowRate.Count != 120 {
		t.Errorf("flow stats = %+v, want mean 48.5 count 120", got.Stats.FlowRate)
	}
	if got.Duration != want.Duration {
		t.Errorf("duration = %v, want %v", got.Duration, want.Duration)
	}

	if len(got.Alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(got.Alerts))
	}
	byID := map[string]models.Alert{}
	for _, a := range got.Alerts {
		byID[a.ID] = a
	}
	a1 := byID["cycle-1-a1"]
	if a1.Kind != models.KindCriticalLeak || a1.SensorID != "S1" || a1.Value != 108 {
		t.Errorf("alert a1 = %+v", a1)
	}
	if a1.Location.X != -46.63 || a1.Location.Y != -23.55 {
		t.Errorf("alert a1 location = %+v", a1.Location)
	}
	if a1.ProducedBy != "worker-1" {
		t.Errorf("alert a1 produced_by = %s, want worker-1", a1.ProducedBy)
	}
}

func TestGetReportNotFound(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.GetReport("missing"); err == nil {
		t.Fatal("expected error for unknown cycle ID")
	}
}

func TestGetRecentReports(t *testing.T) {
	s := newTestStorage(t)

	for i := 1; i <= 5; i++ {
		if err := s.SaveReport(sampleReport(fmt.Sprintf("cycle-%d", i), i)); err != nil {
			t.Fatalf("SaveReport %d: %v", i, err)
		}
	}

	reports, err := s.GetRecentReports(3)
	if err != nil {
		t.Fatalf("GetRecentReports: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}
	// Newest first.
	for i, wantNumber := range []int{5, 4, 3} {
		if reports[i].CycleNumber != wantNumber {
			t.Errorf("reports[%d].CycleNumber = %d, want %d", i, reports[i].CycleNumber, wantNumber)
		}
	}
}

func TestReportRotation(t *testing.T) {
	s, err := New(3, ":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer s.Close()

	for i := 1; i <= 6; i++ {
		if err := s.SaveReport(sampleReport(fmt.Sprintf("cycle-%d", i), i)); err != nil {
			t.Fatalf("SaveReport %d: %v", i, err)
		}
	}

	reports, err := s.GetRecentReports(10)
	if err != nil {
		t.Fatalf("GetRecentReports: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports after rotation, want 3", len(reports))
	}
	if reports[0].CycleID != "cycle-6" || reports[2].CycleID != "cycle-4" {
		t.Errorf("wrong survivors: %s .. %s", reports[0].CycleID, reports[2].CycleID)
	}

	// Cascade must have removed the rotated reports' alerts too.
	counts, err := s.CountAlertsByKind()
	if err != nil {
		t.Fatalf("CountAlertsByKind: %v", err)
	}
	if counts[models.KindCriticalLeak] != 3 {
		t.Errorf("critical leak alerts = %d, want 3", counts[models.KindCriticalLeak])
	}
}

func TestCountAlertsByKind(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SaveReport(sampleReport("cycle-1", 1)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if err := s.SaveReport(sampleReport("cycle-2", 2)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	counts, err := s.CountAlertsByKind()
	if err != nil {
		t.Fatalf("CountAlertsByKind: %v", err)
	}
	if counts[models.KindCriticalLeak] != 2 {
		t.Errorf("CRITICAL_LEAK = %d, want 2", counts[models.KindCriticalLeak])
	}
	if counts[models.KindHighBlockage] != 2 {
		t.Errorf("HIGH_BLOCKAGE = %d, want 2", counts[models.KindHighBlockage])
	}
}

func TestAppendReportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.jsonl")

	if err := AppendReportJSON(path, sampleReport("cycle-1", 1)); err != nil {
		t.Fatalf("AppendReportJSON: %v", err)
	}
	if err := AppendReportJSON(path, sampleReport("cycle-2", 2)); err != nil {
		t.Fatalf("AppendReportJSON: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var cycleIDs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var report models.Report
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		cycleIDs = append(cycleIDs, report.CycleID)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	if len(cycleIDs) != 2 || cycleIDs[0] != "cycle-1" || cycleIDs[1] != "cycle-2" {
		t.Errorf("exported cycles = %v, want [cycle-1 cycle-2]", cycleIDs)
	}
}
