// Package activity implements the Activity Stream (C12): a read-side view
// over the Persistence Store's append-only per-job activity log, giving
// callers (notably the HTTP API's job-detail endpoint) cursor-based polling
// via (job_id, since_id) -> (records, latest_id). The durable write path
// lives in store.ActivityStore; this package owns the streaming contract
// the rest of the system programs against, grounded on the reference
// jobs.Store's ordered-keys-plus-map history idiom (internal/jobs/store.go).
package activity

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentcore/internal/store"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Recorder is the write-side handle the Agent Runtime uses to emit
// activities for a running job (§4.12, §6.2's AppendActivity contract).
type Recorder struct {
	st    store.ActivityStore
	jobID string
}

// NewRecorder binds a Recorder to one job's activity log.
func NewRecorder(st store.ActivityStore, jobID string) *Recorder {
	return &Recorder{st: st, jobID: jobID}
}

// Emit appends one activity record, filling JobID automatically.
func (r *Recorder) Emit(ctx context.Context, typ models.ActivityType, message string, opts ...Option) error {
	a := models.Activity{JobID: r.jobID, Type: typ, Message: message}
	for _, opt := range opts {
		opt(&a)
	}
	if _, err := r.st.AppendActivity(ctx, a); err != nil {
		return fmt.Errorf("activity: emit: %w", err)
	}
	return nil
}

// Option customizes an emitted Activity beyond its type and message.
type Option func(*models.Activity)

// WithDetail attaches a free-form detail string (e.g. tool arguments, or an
// error's full text) to the activity.
func WithDetail(detail string) Option {
	return func(a *models.Activity) { a.Detail = detail }
}

// WithTool tags the activity with the tool name it concerns.
func WithTool(name string) Option {
	return func(a *models.Activity) { a.ToolName = name }
}

// AsError marks the activity as an error event.
func AsError() Option {
	return func(a *models.Activity) { a.IsError = true }
}

// Page is one poll's worth of activity records plus the cursor a caller
// should pass as SinceID on its next poll.
type Page struct {
	Records []models.Activity
	LatestID int64
}

// Reader is the read-side handle the HTTP API uses to poll a job's stream.
type Reader struct {
	st store.ActivityStore
}

// NewReader builds a Reader over the shared Persistence Store.
func NewReader(st store.ActivityStore) *Reader {
	return &Reader{st: st}
}

// Since returns every activity recorded for jobID strictly after sinceID,
// along with the new cursor to resume from. A caller that polls with the
// returned LatestID will never see the same record twice and will never
// miss one, since AppendActivity hands out strictly increasing ids per job.
func (r *Reader) Since(ctx context.Context, jobID string, sinceID int64) (Page, error) {
	records, err := r.st.ReadActivities(ctx, jobID, sinceID)
	if err != nil {
		return Page{}, fmt.Errorf("activity: read: %w", err)
	}
	latest := sinceID
	if len(records) > 0 {
		latest = records[len(records)-1].ID
	}
	return Page{Records: records, LatestID: latest}, nil
}
