// Package store implements the Persistence Store (C1): the single-writer
// durable home for conversations, messages, jobs, activities, schedules,
// capability sets, and usage records. Store is the interface every other
// component programs against; SQLiteStore and MemoryStore are the two
// concrete implementations.
package store

import (
	"context"
	"errors"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Sentinel errors, matching the reference storage package's interface-
// segregation style (internal/storage/interfaces.go).
var (
	ErrNotFound           = errors.New("store: not found")
	ErrIllegalTransition  = errors.New("store: illegal job status transition")
	ErrConversationBusy   = errors.New("store: conversation already has a non-terminal job")
)

// Store is the full Persistence Store contract (§4.1).
type Store interface {
	ConversationStore
	MessageStore
	JobStore
	ActivityStore
	CapabilityStore
	ScheduleStore
	UsageStore

	Close() error
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	UpdateConversationSummary(ctx context.Context, id string, summary string, upToMessageID int64) error
	ArchiveConversation(ctx context.Context, id string) error
}

type MessageStore interface {
	// AppendMessage durably appends msg, returning an id strictly greater
	// than any previously returned id for msg.ConversationID (§4.1).
	AppendMessage(ctx context.Context, msg models.Message) (int64, error)
	ReadMessages(ctx context.Context, conversationID string, sinceID int64, limit int) ([]models.Message, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, conversationID, userMessage string) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	// UpdateJobStatus validates the transition against §4.7's state machine
	// and rejects illegal ones with ErrIllegalTransition.
	UpdateJobStatus(ctx context.Context, id string, newStatus models.JobStatus, fields JobUpdate) error
	// OldestPendingWithoutRunningPeer returns the oldest pending job whose
	// conversation has no concurrently non-terminal job, or ErrNotFound.
	OldestPendingWithoutRunningPeer(ctx context.Context) (models.Job, error)
	JobsInStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error)
	ListJobsForConversation(ctx context.Context, conversationID string) ([]models.Job, error)
}

// JobUpdate carries the optional fields a status transition may set.
type JobUpdate struct {
	WorkerID       *string
	Result         *string
	ErrorKind      *models.ErrorKind
	ErrorMessage   *string
	PendingToolID  *string
	PendingKind    *string
	PendingPayload map[string]any
}

type ActivityStore interface {
	// AppendActivity assigns a, returning an id strictly increasing per job.
	AppendActivity(ctx context.Context, a models.Activity) (int64, error)
	ReadActivities(ctx context.Context, jobID string, sinceID int64) ([]models.Activity, error)
}

type CapabilityStore interface {
	GetCapabilitySet(ctx context.Context, conversationID string) (models.CapabilitySet, error)
	SetCapabilitySet(ctx context.Context, conversationID string, set models.CapabilitySet) error
}

type ScheduleStore interface {
	UpsertSchedule(ctx context.Context, s models.Schedule) (models.Schedule, error)
	GetSchedule(ctx context.Context, id string) (models.Schedule, error)
	ListEnabledSchedules(ctx context.Context) ([]models.Schedule, error)
	SetScheduleNextFire(ctx context.Context, id string, nextFire *int64) error
	IncrementScheduleRunCount(ctx context.Context, id string) error
}

type UsageStore interface {
	AppendUsage(ctx context.Context, u models.UsageRecord) error
}

// legalTransitions encodes the §4.7 state machine.
var legalTransitions = map[models.JobStatus]map[models.JobStatus]bool{
	models.JobPending: {
		models.JobRunning: true,
	},
	models.JobRunning: {
		models.JobWaitingForInput: true,
		models.JobOAuthPending:    true,
		models.JobCancelled:       true,
		models.JobFailed:          true,
		models.JobCompleted:       true,
		models.JobPending:         true, // crash recovery: revert to pending
	},
	models.JobWaitingForInput: {
		models.JobRunning:   true,
		models.JobCancelled: true,
	},
	models.JobOAuthPending: {
		models.JobRunning:   true,
		models.JobCancelled: true,
	},
}

// ValidateTransition reports whether from→to is legal per §4.7. Terminal
// states never transition further (property 4: no observer ever sees a
// completed job revert).
func ValidateTransition(from, to models.JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if from == to {
		return true
	}
	return legalTransitions[from][to]
}
