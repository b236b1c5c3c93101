package engine

import (
	"math"
	"testing"
	"time"

	"github.com/sewerwatch/sewerwatch/internal/detector"
	"github.com/sewerwatch/sewerwatch/internal/models"
)

func testThresholds() models.Thresholds {
	return models.Thresholds{MinHistory: 10, MaxHistory: 50, Deviation: 2.5, Critical: 3.5}
}

func reading(sensorID string, flowRate float64) models.SensorReading {
	return models.SensorReading{
		SensorID:    sensorID,
		Timestamp:   time.Now(),
		FlowRate:    flowRate,
		Pressure:    2.0,
		Temperature: 18.0,
		PHLevel:     7.0,
	}
}

func TestWorkerProcess_InvalidRecordSkipped(t *testing.T) {
	w := newWorker(1, detector.DefaultConfig(), nil)

	readings := []models.SensorReading{
		reading("S1", 100),
		reading("S2", 101),
		reading("S3", 102),
		reading("S4", 99),
		reading("S5", 98),
	}
	readings[2].PHLevel = 20 // out of [0,14]

	result := w.process(models.Batch{ID: 1, Readings: readings, Thresholds: testThresholds()})

	if result.RecordsInvalid != 1 {
		t.Errorf("records_invalid = %d, want 1", result.RecordsInvalid)
	}
	if result.RecordsProcessed != 4 {
		t.Errorf("records_processed = %d, want 4", result.RecordsProcessed)
	}
	for _, a := range result.Alerts {
		if a.SensorID == "S3" {
			t.Error("invalid record must not produce an alert")
		}
	}
	if result.Stats.FlowRate.Count != 4 {
		t.Errorf("flow stats count = %d, want 4", result.Stats.FlowRate.Count)
	}
}

func TestWorkerProcess_EmitsAlerts(t *testing.T) {
	w := newWorker(2, detector.DefaultConfig(), nil)

	baseline := []float64{100, 102, 98, 101, 99, 100, 103, 97, 100, 101}
	var readings []models.SensorReading
	for _, v := range baseline {
		readings = append(readings, reading("S1", v))
	}
	readings = append(readings, reading("S1", 108))

	result := w.process(models.Batch{ID: 7, Readings: readings, Thresholds: testThresholds()})

	if len(result.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(result.Alerts))
	}
	alert := result.Alerts[0]
	if alert.Kind != models.KindCriticalLeak {
		t.Errorf("alert kind = %s, want CRITICAL_LEAK", alert.Kind)
	}
	if alert.SensorID != "S1" {
		t.Errorf("alert sensor = %s, want S1", alert.SensorID)
	}
	if alert.Value != 108 {
		t.Errorf("alert value = %v, want 108", alert.Value)
	}
	if alert.ProducedBy != "worker-2" {
		t.Errorf("alert produced_by = %s, want worker-2", alert.ProducedBy)
	}
	if alert.ID == "" {
		t.Error("alert must carry an ID")
	}
}

func TestWorkerProcess_Statistics(t *testing.T) {
	w := newWorker(1, detector.DefaultConfig(), nil)

	readings := []models.SensorReading{
		reading("S1", 10),
		reading("S2", 20),
		reading("S3", 30),
	}
	result := w.process(models.Batch{ID: 3, Readings: readings, Thresholds: testThresholds()})

	fr := result.Stats.FlowRate
	if math.Abs(fr.Mean-20) > 1e-9 {
		t.Errorf("flow mean = %v, want 20", fr.Mean)
	}
	if fr.Min != 10 || fr.Max != 30 {
		t.Errorf("flow min/max = %v/%v, want 10/30", fr.Min, fr.Max)
	}
	if result.ProcessingTime < 0 {
		t.Error("processing time must be non-negative")
	}
	if result.BatchID != 3 || result.WorkerID != 1 {
		t.Errorf("result identity = batch %d worker %d, want batch 3 worker 1", result.BatchID, result.WorkerID)
	}
}

func TestWorkerProcess_HistorySpansBatches(t *testing.T) {
	w := newWorker(1, detector.DefaultConfig(), nil)

	baseline := []float64{100, 102, 98, 101, 99, 100, 103, 97, 100, 101}
	var first []models.SensorReading
	for _, v := range baseline {
		first = append(first, reading("S1", v))
	}
	res1 := w.process(models.Batch{ID: 1, Readings: first, Thresholds: testThresholds()})
	if len(res1.Alerts) != 0 {
		t.Fatalf("baseline batch produced %d alerts, want 0", len(res1.Alerts))
	}

	// Detector history must persist across batches within one worker.
	res2 := w.process(models.Batch{
		ID:         2,
		Readings:   []models.SensorReading{reading("S1", 108)},
		Thresholds: testThresholds(),
	})
	if len(res2.Alerts) != 1 || res2.Alerts[0].Kind != models.KindCriticalLeak {
		t.Fatalf("expected CRITICAL_LEAK from second batch, got %+v", res2.Alerts)
	}
}
