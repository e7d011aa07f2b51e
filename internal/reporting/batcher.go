package reporting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"rpreport/internal/rp"
)

// Batch defaults.
const (
	DefaultLogBatchSize     = 20
	DefaultFlushMaxAttempts = 10
)

// LogSender delivers one multipart log batch. *rp.LogScope implements it.
type LogSender interface {
	SaveBatch(ctx context.Context, entries []rp.SaveLogRQ, files []rp.FilePart) (*rp.BatchSaveOperatingRS, error)
}

// Batcher accumulates log records and sends them as one multipart request
// once the batch is full or a flush is forced. Records stay queued until a
// flush succeeds, so delivery is at-least-once. It is not safe for
// concurrent use.
type Batcher struct {
	sender      LogSender
	size        int
	maxAttempts int
	backoff     time.Duration
	launchUUID  string
	pending     []LogRecord
	logger      *slog.Logger
	sleep       func(context.Context, time.Duration) error
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithMaxAttempts bounds the number of send attempts per flush.
func WithMaxAttempts(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithBackoff sets the pause between attempts; the nth retry waits n*d.
func WithBackoff(d time.Duration) BatcherOption {
	return func(b *Batcher) { b.backoff = d }
}

// WithBatchLogger sets the logger used for retry warnings.
func WithBatchLogger(l *slog.Logger) BatcherOption {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBatcher returns a Batcher that flushes every size records. A size
// below one selects DefaultLogBatchSize.
func NewBatcher(sender LogSender, size int, opts ...BatcherOption) *Batcher {
	if size < 1 {
		size = DefaultLogBatchSize
	}
	b := &Batcher{
		sender:      sender,
		size:        size,
		maxAttempts: DefaultFlushMaxAttempts,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetLaunch sets the launch uuid stamped on every record at flush time.
func (b *Batcher) SetLaunch(uuid string) { b.launchUUID = uuid }

// Size returns the configured batch size.
func (b *Batcher) Size() int { return b.size }

// Len returns the number of queued records.
func (b *Batcher) Len() int { return len(b.pending) }

// Pending returns a copy of the queued records in order.
func (b *Batcher) Pending() []LogRecord {
	return append([]LogRecord(nil), b.pending...)
}

// Restore replaces the queue with recs.
func (b *Batcher) Restore(recs []LogRecord) {
	b.pending = append([]LogRecord(nil), recs...)
}

// Append queues rec and flushes when the batch is full. The returned
// acknowledgement is nil when no flush happened.
func (b *Batcher) Append(ctx context.Context, rec LogRecord) (*rp.BatchSaveOperatingRS, error) {
	if rec.Attachment != nil {
		rec.Attachment = rec.Attachment.settled()
	}
	b.pending = append(b.pending, rec)
	if len(b.pending) < b.size {
		return nil, nil
	}
	return b.Flush(ctx, false)
}

// Flush sends the queued records. Without force it only sends a full
// batch. An empty queue is a no-op. Only incomplete acknowledgements are
// retried; any other failure returns at once. On failure the queue is
// left exactly as it was.
func (b *Batcher) Flush(ctx context.Context, force bool) (*rp.BatchSaveOperatingRS, error) {
	if len(b.pending) == 0 || (!force && len(b.pending) < b.size) {
		return nil, nil
	}

	entries, files := b.encode()

	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if attempt > 1 && b.backoff > 0 {
			if err := b.sleep(ctx, time.Duration(attempt-1)*b.backoff); err != nil {
				return nil, err
			}
		}
		ack, err := b.sender.SaveBatch(ctx, entries, files)
		if err == nil {
			b.logger.Debug("log batch sent", "launch", b.launchUUID, "records", len(entries), "attempt", attempt)
			b.pending = nil
			return ack, nil
		}
		if !rp.IsTransientAck(err) {
			return nil, err
		}
		lastErr = err
		b.logger.Warn("log batch acknowledgement incomplete, retrying",
			"launch", b.launchUUID, "attempt", attempt, "max_attempts", b.maxAttempts, "error", err)
	}
	return nil, fmt.Errorf("log batch failed after %d attempts: %w", b.maxAttempts, lastErr)
}

// encode stamps the queued records and splits attachments into file parts.
func (b *Batcher) encode() ([]rp.SaveLogRQ, []rp.FilePart) {
	entries := make([]rp.SaveLogRQ, 0, len(b.pending))
	var files []rp.FilePart
	for _, rec := range b.pending {
		e := rp.SaveLogRQ{
			LaunchUUID: b.launchUUID,
			ItemUUID:   rec.ItemUUID,
			Time:       rp.EpochMillis(rec.Time),
			Message:    rec.Message,
			Level:      rec.Level,
		}
		if a := rec.Attachment; a != nil {
			e.File = &rp.FileRef{Name: a.Name}
			files = append(files, rp.FilePart{Name: a.Name, Content: a.Data, MIME: a.MIME})
		}
		entries = append(entries, e)
	}
	return entries, files
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
