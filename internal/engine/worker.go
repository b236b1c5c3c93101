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

// batchAggregator accumulates per-parameter statistics over the valid
// readings of one batch.
type batchAggregator struct {
	flow, pressure, temp, ph stats.Accumulator
}

func (a *batchAggregator) add(r *models.SensorReading) {
	a.flow.Add(r.FlowRate)
	a.pressure.Add(r.Pressure)
	a.temp.Add(r.Temperature)
	a.ph.Add(r.PHLevel)
}

func (a *batchAggregator) snapshot() models.BatchStats {
	return models.BatchStats{
		FlowRate:    a.flow.Snapshot(),
		Pressure:    a.pressure.Snapshot(),
		Temperature: a.temp.Snapshot(),
		PHLevel:     a.ph.Snapshot(),
	}
}

// Worker consumes batches from its private task channel and returns
// one BatchResult per batch on the shared results channel. Each worker
// owns an independent detector, so per-sensor history is never shared
// across workers. Batches are processed strictly in the order
// received.
type Worker struct {
	id       int
	tasks    chan models.Batch
	results  chan<- models.BatchResult
	detector *detector.Detector
	log      *logger.Logger
}

func newWorker(id int, cfg detector.Config, results chan<- models.BatchResult) *Worker {
	return &Worker{
		id:       id,
		tasks:    make(chan models.Batch, 1),
		results:  results,
		detector: detector.New(cfg),
		log:      logger.New(fmt.Sprintf("Worker[%d]", id)),
	}
}

// run is the worker receive loop. It exits when the task channel is
// closed (the termination sentinel) or the context is cancelled.
func (w *Worker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	w.log.Info("Worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker stopped: context cancelled")
			return
		case batch, ok := <-w.tasks:
			if !ok {
				w.log.Info("Termination signal received")
				return
			}
			result := w.process(batch)
			select {
			case w.results <- result:
			case <-ctx.Done():
				w.log.Info("Worker stopped: context cancelled")
				return
			}
		}
	}
}

// process transforms one batch into one BatchResult, entirely locally.
// Invalid readings are counted and skipped, never propagated.
func (w *Worker) process(batch models.Batch) models.BatchResult {
	start := time.Now()
	w.log.Debug("Processing batch %d with %d readings", batch.ID, len(batch.Readings))

	w.detector.ApplyThresholds(batch.Thresholds)

	var agg batchAggregator
	var alerts []models.Alert
	processed, invalid := 0, 0

	for i := range batch.Readings {
		r := &batch.Readings[i]
		if err := r.Validate(); err != nil {
			invalid++
			w.log.Debug("Invalid reading from sensor %q: %v", r.SensorID, err)
			continue
		}
		processed++
		agg.add(r)

		_, kind := w.detector.Detect(r.SensorID, r.FlowRate)
		if kind.IsAlertable() {
			alerts = append(alerts, models.Alert{
				ID:         uuid.New().String(),
				SensorID:   r.SensorID,
				Kind:       kind,
				Value:      r.FlowRate,
				Timestamp:  r.Timestamp,
				Location:   r.Location,
				ProducedBy: fmt.Sprintf("worker-%d", w.id),
			})
		}
	}

	elapsed := time.Since(start)
	metrics.BatchDuration.Observe(elapsed.Seconds())
	w.log.Info("Batch %d processed: %d records, %d invalid, %d alerts in %v",
		batch.ID, processed, invalid, len(alerts), elapsed)

	return models.BatchResult{
		BatchID:          batch.ID,
		WorkerID:         w.id,
		RecordsProcessed: processed,
		RecordsInvalid:   invalid,
		Alerts:           alerts,
		Stats:            agg.snapshot(),
		ProcessingTime:   elapsed,
	}
}
