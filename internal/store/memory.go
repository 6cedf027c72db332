package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// MemoryStore is an in-process Store implementation for tests and for the
// deterministic scenarios in SPEC_FULL.md §8. It follows the reference
// jobs.MemoryStore's clone-on-read/write idiom: every getter returns a deep
// copy so callers can never mutate internal state through an alias.
type MemoryStore struct {
	mu sync.Mutex

	conversations map[string]models.Conversation
	messages      map[string][]models.Message // by conversation id
	nextMessageID map[string]int64

	jobs map[string]models.Job

	activities      map[string][]models.Activity // by job id
	nextActivityID  map[string]int64

	capabilitySets map[string]models.CapabilitySet

	schedules map[string]models.Schedule

	usage []models.UsageRecord

	// seq is a monotonic tiebreaker for CreatedAt ordering: wall-clock time
	// alone can tie within a nanosecond under fast concurrent submissions,
	// which would make FIFO dispatch order (property 1, §8) nondeterministic.
	seq     int64
	jobSeq  map[string]int64
	convSeq map[string]int64
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations:  make(map[string]models.Conversation),
		messages:       make(map[string][]models.Message),
		nextMessageID:  make(map[string]int64),
		jobs:           make(map[string]models.Job),
		activities:     make(map[string][]models.Activity),
		nextActivityID: make(map[string]int64),
		capabilitySets: make(map[string]models.CapabilitySet),
		schedules:      make(map[string]models.Schedule),
		jobSeq:         make(map[string]int64),
		convSeq:        make(map[string]int64),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	s.seq++
	s.convSeq[conv.ID] = s.seq
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return s.convSeq[out[i].ID] < s.convSeq[out[j].ID] })
	return out, nil
}

func (s *MemoryStore) UpdateConversationSummary(ctx context.Context, id, summary string, upToMessageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Summary = summary
	c.SummaryUpToMessageID = upToMessageID
	s.conversations[id] = c
	return nil
}

func (s *MemoryStore) ArchiveConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.IsArchived = true
	s.conversations[id] = c
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg models.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID[msg.ConversationID]++
	msg.ID = s.nextMessageID[msg.ConversationID]
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg.ID, nil
}

func (s *MemoryStore) ReadMessages(ctx context.Context, conversationID string, sinceID int64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	out := make([]models.Message, 0, len(all))
	for _, m := range all {
		if m.ID > sinceID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, conversationID, userMessage string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ConversationID == conversationID && !j.Status.Terminal() {
			return models.Job{}, ErrConversationBusy
		}
	}
	j := models.Job{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserMessage:    userMessage,
		Status:         models.JobPending,
		CreatedAt:      time.Now().UTC(),
	}
	s.seq++
	s.jobSeq[j.ID] = s.seq
	s.jobs[j.ID] = j
	return j, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return j, nil
}

func (s *MemoryStore) UpdateJobStatus(ctx context.Context, id string, newStatus models.JobStatus, fields JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !ValidateTransition(j.Status, newStatus) {
		return ErrIllegalTransition
	}
	j.Status = newStatus
	if fields.WorkerID != nil {
		j.WorkerID = *fields.WorkerID
	}
	if fields.Result != nil {
		j.Result = *fields.Result
	}
	if fields.ErrorKind != nil {
		j.ErrorKind = *fields.ErrorKind
	}
	if fields.ErrorMessage != nil {
		j.ErrorMessage = *fields.ErrorMessage
	}
	if fields.PendingToolID != nil {
		j.PendingToolID = *fields.PendingToolID
	}
	if fields.PendingKind != nil {
		j.PendingKind = *fields.PendingKind
	}
	if fields.PendingPayload != nil {
		j.PendingPayload = fields.PendingPayload
	}
	if newStatus == models.JobRunning && j.PendingKind == "" {
		// Cleared any stale pending payload from a previous ask_user round.
		j.PendingToolID = ""
		j.PendingPayload = nil
	}
	s.jobs[id] = j
	return nil
}

func (s *MemoryStore) OldestPendingWithoutRunningPeer(ctx context.Context) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	busyConversations := make(map[string]bool)
	for _, j := range s.jobs {
		if j.Status == models.JobRunning || j.Status == models.JobWaitingForInput || j.Status == models.JobOAuthPending {
			busyConversations[j.ConversationID] = true
		}
	}

	var candidates []models.Job
	for _, j := range s.jobs {
		if j.Status == models.JobPending && !busyConversations[j.ConversationID] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return models.Job{}, ErrNotFound
	}
	sort.Slice(candidates, func(i, k int) bool { return s.jobSeq[candidates[i].ID] < s.jobSeq[candidates[k].ID] })
	return candidates[0], nil
}

func (s *MemoryStore) JobsInStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListJobsForConversation(ctx context.Context, conversationID string) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if j.ConversationID == conversationID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return s.jobSeq[out[i].ID] < s.jobSeq[out[k].ID] })
	return out, nil
}

func (s *MemoryStore) AppendActivity(ctx context.Context, a models.Activity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextActivityID[a.JobID]++
	a.ID = s.nextActivityID[a.JobID]
	s.activities[a.JobID] = append(s.activities[a.JobID], a)
	return a.ID, nil
}

func (s *MemoryStore) ReadActivities(ctx context.Context, jobID string, sinceID int64) ([]models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.activities[jobID]
	out := make([]models.Activity, 0, len(all))
	for _, a := range all {
		if a.ID > sinceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetCapabilitySet(ctx context.Context, conversationID string) (models.CapabilitySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.capabilitySets[conversationID]
	if !ok {
		return models.CapabilitySet{}, nil
	}
	out := make(models.CapabilitySet, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetCapabilitySet(ctx context.Context, conversationID string, set models.CapabilitySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(models.CapabilitySet, len(set))
	for k, v := range set {
		out[k] = v
	}
	s.capabilitySets[conversationID] = out
	return nil
}

func (s *MemoryStore) UpsertSchedule(ctx context.Context, sc models.Schedule) (models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	s.schedules[sc.ID] = sc
	return sc, nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, id string) (models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return models.Schedule{}, ErrNotFound
	}
	return sc, nil
}

func (s *MemoryStore) ListEnabledSchedules(ctx context.Context) ([]models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Schedule
	for _, sc := range s.schedules {
		if sc.Enabled {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetScheduleNextFire(ctx context.Context, id string, nextFireUnix *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	if nextFireUnix == nil {
		sc.NextFire = nil
	} else {
		t := unixToTime(*nextFireUnix)
		sc.NextFire = &t
	}
	s.schedules[id] = sc
	return nil
}

func (s *MemoryStore) IncrementScheduleRunCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sc.RunCount++
	s.schedules[id] = sc
	return nil
}

func (s *MemoryStore) AppendUsage(ctx context.Context, u models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, u)
	return nil
}
