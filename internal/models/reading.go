// Package models defines the core domain entities: sensor readings,
// batches, alerts, and cycle reports.
package models

import (
	"errors"
	"math"
	"time"
)

// Location is a sensor position in the network (x/y or lon/lat,
// depending on the upstream export).
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SensorReading is a single telemetry record from one sewage sensor.
// Readings are immutable once parsed from the source.
type SensorReading struct {
	SensorID    string    `json:"sensor_id"`
	Timestamp   time.Time `json:"timestamp"`
	FlowRate    float64   `json:"flow_rate"`
	Pressure    float64   `json:"pressure"`
	Temperature float64   `json:"temperature"`
	PHLevel     float64   `json:"ph_level"`
	Turbidity   float64   `json:"turbidity"`
	Location    Location  `json:"location"`
}

// Validate checks reading field constraints. An error here means the
// reading is counted as invalid and skipped, never propagated.
func (r *SensorReading) Validate() error {
	if r.SensorID == "" {
		return errors.New("sensor ID must not be empty")
	}
	for _, v := range []float64{r.FlowRate, r.Pressure, r.Temperature, r.PHLevel, r.Turbidity, r.Location.X, r.Location.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("numeric fields must be finite")
		}
	}
	if r.FlowRate < 0 {
		return errors.New("flow rate must not be negative")
	}
	if r.Pressure < 0 {
		return errors.New("pressure must not be negative")
	}
	if r.Temperature < -50 || r.Temperature > 100 {
		return errors.New("temperature must be between -50 and 100")
	}
	if r.PHLevel < 0 || r.PHLevel > 14 {
		return errors.New("ph level must be between 0 and 14")
	}
	return nil
}

// Thresholds is the detection configuration snapshot a batch carries,
// taken at partition time so mid-cycle reloads cannot split a batch
// across two configurations.
type Thresholds struct {
	MinHistory int     `json:"min_history"`
	MaxHistory int     `json:"max_history"`
	Deviation  float64 `json:"threshold_deviation"`
	Critical   float64 `json:"threshold_critical"`
}

// Batch is an ordered group of readings processed atomically by one
// worker. Ownership transfers at dispatch and again at result return;
// nothing else may touch it in between.
type Batch struct {
	ID         int             `json:"batch_id"`
	Readings   []SensorReading `json:"readings"`
	Thresholds Thresholds      `json:"thresholds"`
}
