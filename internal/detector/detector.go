// Package detector classifies flow-rate readings against each sensor's
// own recent history using a sliding-window z-score.
package detector

import (
	"math"

	"github.com/sewerwatch/sewerwatch/internal/models"
)

// Config holds the detection thresholds and window bounds.
type Config struct {
	MinHistory int
	MaxHistory int
	Deviation  float64
	Critical   float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinHistory: 10,
		MaxHistory: 50,
		Deviation:  2.5,
		Critical:   3.5,
	}
}

// history is a bounded FIFO window of the most recent flow-rate values
// for one sensor. Oldest values are evicted once the window is full.
type history struct {
	values []float64
}

func (h *history) append(v float64, max int) {
	h.values = append(h.values, v)
	if len(h.values) > max {
		h.values = h.values[len(h.values)-max:]
	}
}

// Detector keeps per-sensor history and classifies new readings.
// It is stateful and deterministic: the same sequence of inputs for a
// sensor always yields the same sequence of classifications. A
// Detector must never be shared between workers; each worker owns an
// independent instance.
type Detector struct {
	config    Config
	histories map[string]*history
}

// New creates a detector with the given thresholds.
func New(config Config) *Detector {
	return &Detector{
		config:    config,
		histories: make(map[string]*history),
	}
}

// ApplyThresholds adopts the threshold snapshot carried by a batch, so
// every reading in a batch is classified under the configuration in
// effect when the batch was created.
func (d *Detector) ApplyThresholds(t models.Thresholds) {
	d.config = Config{
		MinHistory: t.MinHistory,
		MaxHistory: t.MaxHistory,
		Deviation:  t.Deviation,
		Critical:   t.Critical,
	}
}

func (d *Detector) getOrCreateHistory(sensorID string) *history {
	if h, ok := d.histories[sensorID]; ok {
		return h
	}
	h := &history{}
	d.histories[sensorID] = h
	return h
}

// Detect appends value to the sensor's window and classifies it against
// the prior history. The baseline always excludes the value itself.
func (d *Detector) Detect(sensorID string, value float64) (bool, models.AnomalyKind) {
	h := d.getOrCreateHistory(sensorID)
	h.append(value, d.config.MaxHistory)

	prior := h.values[:len(h.values)-1]
	if len(prior) < d.config.MinHistory {
		return false, models.KindInsufficientHistory
	}

	mean, sigma := meanStd(prior)
	if sigma == 0 {
		return false, models.KindConstantSensor
	}

	z := math.Abs(value-mean) / sigma
	switch {
	case z > d.config.Critical:
		if value > mean {
			return true, models.KindCriticalLeak
		}
		return true, models.KindCriticalBlockage
	case z > d.config.Deviation:
		if value > mean {
			return true, models.KindHighLeak
		}
		return true, models.KindHighBlockage
	}
	return false, models.KindNormal
}

// SensorCount returns the number of sensors with any history.
func (d *Detector) SensorCount() int {
	return len(d.histories)
}

// meanStd computes the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		diff := v - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / n)
}
