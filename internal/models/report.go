package models

import "time"

// AnomalyKind classifies a detection result.
type AnomalyKind string

const (
	KindNormal              AnomalyKind = "NORMAL"
	KindInsufficientHistory AnomalyKind = "INSUFFICIENT_HISTORY"
	KindConstantSensor      AnomalyKind = "CONSTANT_SENSOR"
	KindHighLeak            AnomalyKind = "HIGH_LEAK"
	KindHighBlockage        AnomalyKind = "HIGH_BLOCKAGE"
	KindCriticalLeak        AnomalyKind = "CRITICAL_LEAK"
	KindCriticalBlockage    AnomalyKind = "CRITICAL_BLOCKAGE"
)

// IsCritical reports whether the kind is one of the critical variants.
func (k AnomalyKind) IsCritical() bool {
	return k == KindCriticalLeak || k == KindCriticalBlockage
}

// IsAlertable reports whether a detection of this kind produces an
// alert. NORMAL, INSUFFICIENT_HISTORY and CONSTANT_SENSOR do not.
func (k AnomalyKind) IsAlertable() bool {
	switch k {
	case KindHighLeak, KindHighBlockage, KindCriticalLeak, KindCriticalBlockage:
		return true
	}
	return false
}

// Alert is one anomalous reading flagged by a worker. It is owned by
// the worker until the BatchResult is returned, then by the master,
// and is terminal once persisted into a Report.
type Alert struct {
	ID         string      `json:"id"`
	SensorID   string      `json:"sensor_id"`
	Kind       AnomalyKind `json:"kind"`
	Value      float64     `json:"value"`
	Timestamp  time.Time   `json:"timestamp"`
	Location   Location    `json:"location"`
	ProducedBy string      `json:"produced_by"`
}

// ParameterStats holds aggregate statistics for one telemetry
// parameter across a batch or a whole cycle.
type ParameterStats struct {
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// BatchStats carries per-parameter statistics for the validated
// readings of one batch.
type BatchStats struct {
	FlowRate    ParameterStats `json:"flow_rate"`
	Pressure    ParameterStats `json:"pressure"`
	Temperature ParameterStats `json:"temperature"`
	PHLevel     ParameterStats `json:"ph_level"`
}

// BatchResult is the outcome of processing one batch. Produced exactly
// once per batch and consumed exactly once by the master.
type BatchResult struct {
	BatchID          int           `json:"batch_id"`
	WorkerID         int           `json:"worker_id"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsInvalid   int           `json:"records_invalid"`
	Alerts           []Alert       `json:"alerts"`
	Stats            BatchStats    `json:"statistics"`
	ProcessingTime   time.Duration `json:"processing_time"`
}

// Report is the consolidated, append-only aggregate of all batch
// results for one processing cycle. Immutable once persisted.
type Report struct {
	CycleID        string        `json:"cycle_id"`
	CycleNumber    int           `json:"cycle"`
	Timestamp      time.Time     `json:"timestamp"`
	TotalRecords   int           `json:"total_records"`
	TotalInvalid   int           `json:"total_invalid"`
	TotalAlerts    int           `json:"total_alerts"`
	CriticalAlerts int           `json:"critical_alerts"`
	Stats          BatchStats    `json:"statistics"`
	Alerts         []Alert       `json:"alerts"`
	WorkersUsed    int           `json:"workers_used"`
	Duration       time.Duration `json:"duration"`
}
