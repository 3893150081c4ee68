package dispatcher

import (
	"context"
	"time"
)

// RetryBatchResult summarizes one pass over the dead-letter queue.
type RetryBatchResult struct {
	Processed int
	Failed    int
	Skipped   int
}

// RetryDLQBatch pulls up to batchSize ready DLQ entries and attempts a
// single dispatch each, no inner retry loop: success resolves the entry and
// marks the event processed, failure re-enqueues (which reschedules or
// abandons depending on retry count). Callers reach this both from the
// admin HTTP endpoint and from the background sweep below.
func (d *Dispatcher) RetryDLQBatch(ctx context.Context, batchSize int) (RetryBatchResult, error) {
	var result RetryBatchResult

	entries, err := d.dlqStore.GetPendingRetries(ctx, batchSize)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if err := d.dlqStore.MarkRetrying(ctx, entry.ID); err != nil {
			d.log.Warn().Err(err).Str("dlq_id", entry.ID).Msg("dispatcher.dlq_mark_retrying_failed")
			result.Skipped++
			continue
		}

		event, err := d.store.GetByID(ctx, entry.EventID)
		if err != nil || len(event.NormalizedPayload) == 0 {
			d.log.Warn().Str("dlq_id", entry.ID).Str("event_id", entry.EventID).
				Msg("dispatcher.dlq_event_not_found")
			result.Skipped++
			continue
		}

		canonical, unmarshalErr := decodeCanonicalEvent(event.NormalizedPayload)
		if unmarshalErr != nil {
			d.log.Warn().Err(unmarshalErr).Str("dlq_id", entry.ID).Msg("dispatcher.dlq_decode_failed")
			result.Skipped++
			continue
		}

		start := time.Now()
		sendErr := d.send(ctx, canonical)
		d.observe(canonical.Source, time.Since(start), entry.RetryCount+1, sendErr)

		if sendErr == nil {
			if err := d.store.MarkProcessed(ctx, entry.EventID); err != nil {
				d.log.Warn().Err(err).Str("event_id", entry.EventID).Msg("dispatcher.dlq_mark_processed_failed")
			}
			if err := d.dlqStore.MarkResolved(ctx, entry.ID, "resolved by retry sweep"); err != nil {
				d.log.Warn().Err(err).Str("dlq_id", entry.ID).Msg("dispatcher.dlq_mark_resolved_failed")
			} else if d.metrics != nil {
				d.metrics.ObserveDLQResolved(canonical.Source)
			}
			result.Processed++
			continue
		}

		d.log.Warn().Err(sendErr).Str("dlq_id", entry.ID).Str("event_id", entry.EventID).
			Msg("dispatcher.dlq_retry_failed")
		if _, err := d.dlqStore.Enqueue(ctx, entry.EventID, sendErr.Error()); err != nil {
			d.log.Error().Err(err).Str("event_id", entry.EventID).Msg("dispatcher.dlq_reenqueue_failed")
		} else if entry.RetryCount+1 >= entry.MaxRetries && d.metrics != nil {
			d.metrics.ObserveDLQAbandoned(canonical.Source)
		}
		result.Failed++
	}

	return result, nil
}

// StartSweep runs RetryDLQBatch on a fixed interval until Stop is called,
// following the teacher's ticker-driven worker lifecycle.
func (d *Dispatcher) StartSweep(ctx context.Context, interval time.Duration, batchSize int) {
	go d.runSweep(ctx, interval, batchSize)
}

// Stop signals the background sweep to exit and waits for it to finish.
func (d *Dispatcher) Stop() {
	close(d.stopChan)
	<-d.doneChan
}

func (d *Dispatcher) runSweep(ctx context.Context, interval time.Duration, batchSize int) {
	defer close(d.doneChan)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", interval).Msg("dispatcher.dlq_sweep_started")

	for {
		select {
		case <-d.stopChan:
			d.log.Info().Msg("dispatcher.dlq_sweep_stopping")
			return
		case <-ticker.C:
			result, err := d.RetryDLQBatch(ctx, batchSize)
			if err != nil {
				d.log.Error().Err(err).Msg("dispatcher.dlq_sweep_batch_failed")
				continue
			}
			if result.Processed > 0 || result.Failed > 0 || result.Skipped > 0 {
				d.log.Debug().Int("processed", result.Processed).Int("failed", result.Failed).
					Int("skipped", result.Skipped).Msg("dispatcher.dlq_sweep_batch_complete")
			}
		}
	}
}
