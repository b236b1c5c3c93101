// Package engine implements the distributed batch-anomaly-detection
// core: a master that partitions sensor readings into batches,
// dispatches them to a worker pool over point-to-point channels,
// collects per-batch results, and consolidates them into persisted
// cycle reports.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sewerwatch/sewerwatch/internal/detector"
	"github.com/sewerwatch/sewerwatch/internal/logger"
	"github.com/sewerwatch/sewerwatch/internal/metrics"
	"github.com/sewerwatch/sewerwatch/internal/models"
	"github.com/sewerwatch/sewerwatch/internal/stats"
)

// ReadingSource supplies the readings for one processing cycle.
// An empty result means no new data; the cycle is skipped.
type ReadingSource interface {
	Load() ([]models.SensorReading, error)
}

// ReportSink persists a finished cycle report.
type ReportSink interface {
	SaveReport(report *models.Report) error
}

// cycleState tracks where the master is within one processing cycle.
type cycleState int

const (
	stateLoading cycleState = iota
	statePartitioning
	stateDispatching
	stateCollecting
	stateAggregating
	statePersisted
)

func (s cycleState) String() string {
	switch s {
	case stateLoading:
		return "LOADING"
	case statePartitioning:
		return "PARTITIONING"
	case stateDispatching:
		return "DISPATCHING"
	case stateCollecting:
		return "COLLECTING"
	case stateAggregating:
		return "AGGREGATING"
	case statePersisted:
		return "PERSISTED"
	}
	return "UNKNOWN"
}

// Config holds the orchestration knobs for the master.
type Config struct {
	WorkerCount   int
	BatchSize     int // 0 = ceil(readings / workers)
	WorkerTimeout time.Duration
	Detector      detector.Config
}

type workerHandle struct {
	worker *Worker
	alive  bool
	busy   bool
}

type inflight struct {
	batch    models.Batch
	deadline time.Time
}

// Master owns the reading source, the worker pool, and the per-cycle
// report fold. All collection happens on the master goroutine, so the
// report accumulation needs no locking.
type Master struct {
	config Config
	source ReadingSource
	sink   ReportSink

	workers []*workerHandle
	results chan models.BatchResult
	// fallback processes reassigned batches on the master itself when
	// a worker misses its deadline. It keeps its own detector history,
	// like any other worker.
	fallback *Worker

	wg          sync.WaitGroup
	log         *logger.Logger
	state       cycleState
	cycle       int
	nextBatchID int
	started     bool
	terminated  bool
}

// NewMaster creates a master with an idle worker pool. Call Start to
// spawn the workers before running cycles.
func NewMaster(cfg Config, source ReadingSource, sink ReportSink) *Master {
	m := &Master{
		config:  cfg,
		source:  source,
		sink:    sink,
		results: make(chan models.BatchResult, cfg.WorkerCount*2),
		log:     logger.New("Master"),
	}
	for i := 1; i <= cfg.WorkerCount; i++ {
		m.workers = append(m.workers, &workerHandle{
			worker: newWorker(i, cfg.Detector, m.results),
			alive:  true,
		})
	}
	m.fallback = newWorker(0, cfg.Detector, m.results)
	return m
}

// Start spawns the worker goroutines. Workers live across cycles so
// their per-sensor detection history has process lifetime.
func (m *Master) Start(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true
	for _, h := range m.workers {
		m.wg.Add(1)
		go h.worker.run(ctx, &m.wg)
	}
	m.log.Info("Started %d workers", len(m.workers))
}

// Shutdown sends exactly one termination signal (channel close) to
// every worker and waits for all of them to acknowledge by exiting.
func (m *Master) Shutdown() {
	if !m.started || m.terminated {
		return
	}
	m.terminated = true
	m.log.Info("Sending termination signal to %d workers", len(m.workers))
	for _, h := range m.workers {
		close(h.worker.tasks)
	}
	m.wg.Wait()
	m.log.Info("All workers terminated")
}

func (m *Master) setState(s cycleState) {
	m.state = s
	m.log.Debug("Cycle %d state: %s", m.cycle, s)
}

// RunCycle executes one full processing cycle: load, partition,
// dispatch, collect, aggregate, persist. It returns the persisted
// report, or nil when the source had no new data. Source and
// persistence failures are not fatal: the cycle is skipped or the
// in-memory report discarded, and the engine waits for the next tick.
func (m *Master) RunCycle(ctx context.Context) (*models.Report, error) {
	m.cycle++
	start := time.Now()

	m.setState(stateLoading)
	readings, err := m.source.Load()
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("source_error").Inc()
		return nil, fmt.Errorf("cycle %d: source unreadable: %w", m.cycle, err)
	}
	if len(readings) == 0 {
		m.log.Debug("Cycle %d: no new readings", m.cycle)
		metrics.CyclesTotal.WithLabelValues("idle").Inc()
		return nil, nil
	}

	m.setState(statePartitioning)
	batches := m.partition(readings)
	m.log.Info("Cycle %d: partitioned %d readings into %d batches", m.cycle, len(readings), len(batches))

	m.setState(stateDispatching)
	collected := m.dispatchAndCollect(ctx, batches)

	m.setState(stateAggregating)
	report := m.aggregate(collected, start)

	if err := m.persist(report); err != nil {
		// The in-memory report for this cycle is discarded, not
		// retried mid-cycle.
		m.log.Error("Cycle %d: failed to persist report: %v", m.cycle, err)
		metrics.CyclesTotal.WithLabelValues("persist_error").Inc()
		return report, nil
	}

	m.setState(statePersisted)
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	m.log.Info("Cycle %d complete: %d records, %d alerts (%d critical) in %v",
		m.cycle, report.TotalRecords, report.TotalAlerts, report.CriticalAlerts, report.Duration)
	return report, nil
}

// partition splits readings into contiguous batches of the configured
// size. Boundaries are index-based, not sensor-based: every reading
// lands in exactly one batch, in order.
func (m *Master) partition(readings []models.SensorReading) []models.Batch {
	size := m.config.BatchSize
	if size <= 0 {
		size = (len(readings) + m.config.WorkerCount - 1) / m.config.WorkerCount
	}
	if size < 1 {
		size = 1
	}

	thresholds := models.Thresholds{
		MinHistory: m.config.Detector.MinHistory,
		MaxHistory: m.config.Detector.MaxHistory,
		Deviation:  m.config.Detector.Deviation,
		Critical:   m.config.Detector.Critical,
	}

	var batches []models.Batch
	for i := 0; i < len(readings); i += size {
		end := i + size
		if end > len(readings) {
			end = len(readings)
		}
		batches = append(batches, models.Batch{
			ID:         m.nextBatchID,
			Readings:   readings[i:end],
			Thresholds: thresholds,
		})
		m.nextBatchID++
	}
	return batches
}

// dispatchAndCollect hands batches to idle workers and folds results
// as they arrive, overlapping dispatch with collection. A worker that
// misses its deadline is retired from the pool and its batch is
// reprocessed by the master's fallback worker; a late result from a
// retired worker is discarded by batch-ID dedup.
func (m *Master) dispatchAndCollect(ctx context.Context, batches []models.Batch) []models.BatchResult {
	expected := make(map[int]bool, len(batches))
	for _, b := range batches {
		expected[b.ID] = true
	}
	completed := make(map[int]bool, len(batches))
	pending := batches
	inflightByWorker := make(map[int]inflight)

	collected := make([]models.BatchResult, 0, len(batches))

	dispatch := func() {
		for _, h := range m.workers {
			if len(pending) == 0 {
				break
			}
			if !h.alive || h.busy {
				continue
			}
			batch := pending[0]
			pending = pending[1:]
			h.worker.tasks <- batch
			h.busy = true
			inflightByWorker[h.worker.id] = inflight{
				batch:    batch,
				deadline: time.Now().Add(m.config.WorkerTimeout),
			}
			m.log.Debug("Dispatched batch %d to worker %d", batch.ID, h.worker.id)
		}
		// All workers retired: the master processes what remains
		// itself rather than stalling the cycle.
		for len(inflightByWorker) == 0 && len(pending) > 0 {
			batch := pending[0]
			pending = pending[1:]
			m.log.Warn("No live workers, processing batch %d on master", batch.ID)
			res := m.fallback.process(batch)
			completed[batch.ID] = true
			collected = append(collected, res)
		}
	}

	dispatch()
	m.setState(stateCollecting)

	timer := time.NewTimer(m.config.WorkerTimeout)
	defer timer.Stop()

	for len(collected) < len(batches) {
		var timerC <-chan time.Time
		if len(inflightByWorker) > 0 {
			earliest := time.Time{}
			for _, f := range inflightByWorker {
				if earliest.IsZero() || f.deadline.Before(earliest) {
					earliest = f.deadline
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(time.Until(earliest))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			m.log.Warn("Cycle %d interrupted: %v", m.cycle, ctx.Err())
			return collected

		case res := <-m.results:
			if !expected[res.BatchID] || completed[res.BatchID] {
				m.log.Warn("Discarding stale result for batch %d from worker %d", res.BatchID, res.WorkerID)
				continue
			}
			completed[res.BatchID] = true
			collected = append(collected, res)
			if h := m.handleFor(res.WorkerID); h != nil {
				delete(inflightByWorker, res.WorkerID)
				h.busy = false
			}
			dispatch()

		case <-timerC:
			now := time.Now()
			for workerID, f := range inflightByWorker {
				if f.deadline.After(now) {
					continue
				}
				delete(inflightByWorker, workerID)
				if h := m.handleFor(workerID); h != nil {
					h.alive = false
				}
				metrics.WorkerTimeouts.Inc()
				m.log.Warn("Worker %d timed out on batch %d, reassigning to master", workerID, f.batch.ID)
				res := m.fallback.process(f.batch)
				if !completed[f.batch.ID] {
					completed[f.batch.ID] = true
					collected = append(collected, res)
				}
			}
			dispatch()
		}
	}
	return collected
}

func (m *Master) handleFor(workerID int) *workerHandle {
	for _, h := range m.workers {
		if h.worker.id == workerID {
			return h
		}
	}
	return nil
}

// aggregate folds batch results into a cycle report. The fold is
// commutative (sums and mergeable accumulators), so result arrival
// order does not affect totals or statistics.
func (m *Master) aggregate(results []models.BatchResult, start time.Time) *models.Report {
	report := &models.Report{
		CycleID:     uuid.New().String(),
		CycleNumber: m.cycle,
		Timestamp:   time.Now(),
		WorkersUsed: m.config.WorkerCount,
	}

	var flow, pressure, temp, ph stats.Accumulator
	for i := range results {
		res := &results[i]
		report.TotalRecords += res.RecordsProcessed
		report.TotalInvalid += res.RecordsInvalid
		report.Alerts = append(report.Alerts, res.Alerts...)

		flow.Merge(stats.FromStats(res.Stats.FlowRate))
		pressure.Merge(stats.FromStats(res.Stats.Pressure))
		temp.Merge(stats.FromStats(res.Stats.Temperature))
		ph.Merge(stats.FromStats(res.Stats.PHLevel))

		metrics.RecordsProcessed.Add(float64(res.RecordsProcessed))
		metrics.RecordsInvalid.Add(float64(res.RecordsInvalid))
	}

	report.TotalAlerts = len(report.Alerts)
	for i := range report.Alerts {
		if report.Alerts[i].Kind.IsCritical() {
			report.CriticalAlerts++
		}
		metrics.AlertsTotal.WithLabelValues(string(report.Alerts[i].Kind)).Inc()
	}
	report.Stats = models.BatchStats{
		FlowRate:    flow.Snapshot(),
		Pressure:    pressure.Snapshot(),
		Temperature: temp.Snapshot(),
		PHLevel:     ph.Snapshot(),
	}
	report.Duration = time.Since(start)
	return report
}

func (m *Master) persist(report *models.Report) error {
	if m.sink == nil {
		return nil
	}
	return m.sink.SaveReport(report)
}
