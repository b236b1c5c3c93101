// Package source reads sensor telemetry from tabular files.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sewerwatch/sewerwatch/internal/logger"
	"github.com/sewerwatch/sewerwatch/internal/models"
)

// CSVSource loads sensor readings from a CSV file. Columns are matched
// by header name, in any order; only sensor_id and flow_rate are
// required, every other column defaults to its zero value. The file is
// re-read each cycle, but an unchanged file (same size and mtime as
// the previous load) yields no readings so idle cycles stay cheap.
type CSVSource struct {
	path     string
	log      *logger.Logger
	lastSize int64
	lastMod  time.Time
}

// NewCSV creates a source for the file at path.
func NewCSV(path string) *CSVSource {
	return &CSVSource{
		path: path,
		log:  logger.New("Source"),
	}
}

// Load reads all readings from the file. A missing or unreadable file
// is an error; the caller skips the cycle and retries next interval.
func (s *CSVSource) Load() ([]models.SensorReading, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}
	if info.Size() == s.lastSize && info.ModTime().Equal(s.lastMod) {
		s.log.Debug("Source file unchanged since last cycle, no new data")
		return nil, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["sensor_id"]; !ok {
		return nil, fmt.Errorf("source file missing required column sensor_id")
	}
	if _, ok := cols["flow_rate"]; !ok {
		return nil, fmt.Errorf("source file missing required column flow_rate")
	}

	var readings []models.SensorReading
	skipped := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		reading, err := parseRow(row, cols)
		if err != nil {
			skipped++
			continue
		}
		readings = append(readings, reading)
	}

	s.lastSize = info.Size()
	s.lastMod = info.ModTime()
	s.log.Info("Loaded %d readings from %s (%d rows skipped)", len(readings), s.path, skipped)
	return readings, nil
}

func parseRow(row []string, cols map[string]int) (models.SensorReading, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	sensorID, _ := field("sensor_id")
	if sensorID == "" {
		return models.SensorReading{}, fmt.Errorf("empty sensor_id")
	}
	raw, _ := field("flow_rate")
	flowRate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("bad flow_rate %q: %w", raw, err)
	}

	reading := models.SensorReading{
		SensorID:    sensorID,
		Timestamp:   time.Now(),
		FlowRate:    flowRate,
		Pressure:    optionalFloat(field, "pressure"),
		Temperature: optionalFloat(field, "temperature"),
		PHLevel:     optionalFloat(field, "ph_level"),
		Turbidity:   optionalFloat(field, "turbidity"),
		Location: models.Location{
			X: optionalFloat(field, "location_x"),
			Y: optionalFloat(field, "location_y"),
		},
	}
	if ts, ok := field("timestamp"); ok && ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			reading.Timestamp = parsed
		} else if secs, err := strconv.ParseFloat(ts, 64); err == nil {
			reading.Timestamp = time.Unix(int64(secs), 0)
		}
	}
	return reading, nil
}

func optionalFloat(field func(string) (string, bool), name string) float64 {
	raw, ok := field(name)
	if !ok || raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}
