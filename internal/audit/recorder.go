package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder is the best-effort front of a Sink: it stamps ids and times and
// never lets a write failure reach the caller.
type Recorder struct {
	sink    Sink
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{sink: sink, log: log, timeout: 2 * time.Second, now: time.Now}
}

// detach keeps writes alive when the request context was cancelled.
func (r *Recorder) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

func (r *Recorder) stamp(id *string, ts *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if ts.IsZero() {
		*ts = r.now().UTC()
	}
}

func (r *Recorder) Activity(ctx context.Context, e Entry) {
	r.stamp(&e.ID, &e.Timestamp)
	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := r.sink.WriteActivity(ctx, e); err != nil {
		r.log.Warn("activity audit write failed", zap.String("action", e.Action), zap.Error(err))
	}
}

func (r *Recorder) Firewall(ctx context.Context, e FirewallEntry) {
	r.stamp(&e.ID, &e.Timestamp)
	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := r.sink.WriteFirewall(ctx, e); err != nil {
		r.log.Warn("firewall audit write failed",
			zap.String("outcome", e.Outcome), zap.String("layer", e.Layer), zap.Error(err))
	}
}

func (r *Recorder) Security(ctx context.Context, e SecurityEntry) {
	r.stamp(&e.ID, &e.Timestamp)
	if e.Severity == "" {
		e.Severity = SeverityMedium
	}
	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := r.sink.WriteSecurity(ctx, e); err != nil {
		r.log.Warn("security audit write failed", zap.String("event", e.Event), zap.Error(err))
	}
}
