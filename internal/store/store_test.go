package store

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestValidateTransitionLegalPaths(t *testing.T) {
	cases := []struct {
		from, to models.JobStatus
		want     bool
	}{
		{models.JobPending, models.JobRunning, true},
		{models.JobRunning, models.JobWaitingForInput, true},
		{models.JobRunning, models.JobOAuthPending, true},
		{models.JobRunning, models.JobCancelled, true},
		{models.JobRunning, models.JobFailed, true},
		{models.JobRunning, models.JobCompleted, true},
		{models.JobRunning, models.JobPending, true}, // crash recovery
		{models.JobWaitingForInput, models.JobRunning, true},
		{models.JobWaitingForInput, models.JobCancelled, true},
		{models.JobOAuthPending, models.JobRunning, true},
		{models.JobOAuthPending, models.JobCancelled, true},
	}
	for _, c := range cases {
		if got := ValidateTransition(c.from, c.to); got != c.want {
			t.Errorf("ValidateTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestValidateTransitionRejectsIllegalPaths(t *testing.T) {
	cases := []struct {
		from, to models.JobStatus
	}{
		{models.JobPending, models.JobCompleted},
		{models.JobPending, models.JobWaitingForInput},
		{models.JobWaitingForInput, models.JobCompleted},
		{models.JobWaitingForInput, models.JobOAuthPending},
		{models.JobOAuthPending, models.JobWaitingForInput},
	}
	for _, c := range cases {
		if ValidateTransition(c.from, c.to) {
			t.Errorf("ValidateTransition(%s, %s) should be illegal", c.from, c.to)
		}
	}
}

func TestValidateTransitionNeverLeavesTerminalState(t *testing.T) {
	terminal := []models.JobStatus{models.JobCompleted, models.JobFailed, models.JobCancelled}
	targets := []models.JobStatus{models.JobPending, models.JobRunning, models.JobWaitingForInput, models.JobOAuthPending, models.JobCompleted, models.JobFailed, models.JobCancelled}
	for _, from := range terminal {
		for _, to := range targets {
			if from == to {
				continue // ValidateTransition treats from==to as a no-op allowed
			}
			if ValidateTransition(from, to) {
				t.Errorf("terminal state %s must never transition to %s", from, to)
			}
		}
	}
}

func TestValidateTransitionSameStateIsAllowed(t *testing.T) {
	if !ValidateTransition(models.JobRunning, models.JobRunning) {
		t.Fatal("a same-state transition should be treated as a legal no-op")
	}
}

func TestMemoryStoreConversationCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, models.Conversation{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected a generated id")
	}
	if conv.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped")
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != conv.ID {
		t.Fatalf("unexpected conversation: %+v", got)
	}

	if err := s.UpdateConversationSummary(ctx, conv.ID, "summary text", 42); err != nil {
		t.Fatalf("update summary: %v", err)
	}
	got, _ = s.GetConversation(ctx, conv.ID)
	if got.Summary != "summary text" || got.SummaryUpToMessageID != 42 {
		t.Fatalf("summary not persisted: %+v", got)
	}

	if err := s.ArchiveConversation(ctx, conv.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, _ = s.GetConversation(ctx, conv.ID)
	if !got.IsArchived {
		t.Fatal("expected conversation to be archived")
	}

	if _, err := s.GetConversation(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListConversationsIsFIFO(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		c, _ := s.CreateConversation(ctx, models.Conversation{})
		ids = append(ids, c.ID)
	}

	list, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 conversations, got %d", len(list))
	}
	for i, c := range list {
		if c.ID != ids[i] {
			t.Fatalf("expected creation order at index %d: want %s got %s", i, ids[i], c.ID)
		}
	}
}

func TestMemoryStoreAppendAndReadMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.Conversation{})

	var lastID int64
	for i := 0; i < 3; i++ {
		id, err := s.AppendMessage(ctx, models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "hi"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if id <= lastID {
			t.Fatalf("expected strictly increasing message ids, got %d after %d", id, lastID)
		}
		lastID = id
	}

	all, err := s.ReadMessages(ctx, conv.ID, 0, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(all))
	}

	partial, _ := s.ReadMessages(ctx, conv.ID, 1, 0)
	if len(partial) != 2 {
		t.Fatalf("expected 2 messages since id 1, got %d", len(partial))
	}

	limited, _ := s.ReadMessages(ctx, conv.ID, 0, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit=1 to return 1 message, got %d", len(limited))
	}
}

func TestMemoryStoreCreateJobEnforcesConversationExclusivity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.Conversation{})

	if _, err := s.CreateJob(ctx, conv.ID, "first"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateJob(ctx, conv.ID, "second"); err != ErrConversationBusy {
		t.Fatalf("expected ErrConversationBusy while a non-terminal job exists, got %v", err)
	}
}

func TestMemoryStoreCreateJobAllowedAfterTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.Conversation{})

	j1, _ := s.CreateJob(ctx, conv.ID, "first")
	if err := s.UpdateJobStatus(ctx, j1.ID, models.JobRunning, JobUpdate{}); err != nil {
		t.Fatalf("running: %v", err)
	}
	if err := s.UpdateJobStatus(ctx, j1.ID, models.JobCompleted, JobUpdate{}); err != nil {
		t.Fatalf("completed: %v", err)
	}

	if _, err := s.CreateJob(ctx, conv.ID, "second"); err != nil {
		t.Fatalf("expected a new job to be createable once the prior one is terminal: %v", err)
	}
}

func TestMemoryStoreUpdateJobStatusRejectsIllegalTransition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.Conversation{})
	j, _ := s.CreateJob(ctx, conv.ID, "hello")

	if err := s.UpdateJobStatus(ctx, j.ID, models.JobCompleted, JobUpdate{}); err != ErrIllegalTransition {
		t.Fatalf("expected ErrIllegalTransition going straight from pending to completed, got %v", err)
	}
}

func TestMemoryStoreUpdateJobStatusAppliesFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, models.Conversation{})
	j, _ := s.CreateJob(ctx, conv.ID, "hello")

	worker := "worker-1"
	if err := s.UpdateJobStatus(ctx, j.ID, models.JobRunning, JobUpdate{WorkerID: &worker}); err != nil {
		t.Fatalf("running: %v", err)
	}
	result := "done"
	if err := s.UpdateJobStatus(ctx, j.ID, models.JobCompleted, JobUpdate{Result: &result}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.WorkerID != worker || got.Result != result || got.Status != models.JobCompleted {
		t.Fatalf("fields not applied: %+v", got)
	}
}

func TestMemoryStoreOldestPendingWithoutRunningPeer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	convA, _ := s.CreateConversation(ctx, models.Conversation{})
	convB, _ := s.CreateConversation(ctx, models.Conversation{})

	jA1, _ := s.CreateJob(ctx, convA.ID, "a1")
	_, _ = s.CreateJob(ctx, convB.ID, "b1")

	// Put convA's job into running so it's no longer eligible as "pending" and
	// convA becomes busy; a hypothetical second convA job should be excluded.
	_ = s.UpdateJobStatus(ctx, jA1.ID, models.JobRunning, JobUpdate{})

	oldest, err := s.OldestPendingWithoutRunningPeer(ctx)
	if err != nil {
		t.Fatalf("oldest: %v", err)
	}
	if oldest.ConversationID != convB.ID {
		t.Fatalf("expected convB's pending job (convA is busy running), got conversation %s", oldest.ConversationID)
	}
}

func TestMemoryStoreOldestPendingReturnsNotFoundWhenNoneEligible(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.OldestPendingWithoutRunningPeer(context.Background()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on an empty store, got %v", err)
	}
}

func TestMemoryStoreOldestPendingIsFIFOAcrossConversations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var wantFirst string
	for i := 0; i < 5; i++ {
		conv, _ := s.CreateConversation(ctx, models.Conversation{})
		j, _ := s.CreateJob(ctx, conv.ID, "msg")
		if i == 0 {
			wantFirst = j.ID
		}
	}
	got, err := s.OldestPendingWithoutRunningPeer(ctx)
	if err != nil {
		t.Fatalf("oldest: %v", err)
	}
	if got.ID != wantFirst {
		t.Fatalf("expected FIFO oldest job %s, got %s", wantFirst, got.ID)
	}
}

func TestMemoryStoreActivitiesAppendAndRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id1, _ := s.AppendActivity(ctx, models.Activity{JobID: "job-1", Type: models.ActivityStart})
	id2, _ := s.AppendActivity(ctx, models.Activity{JobID: "job-1", Type: models.ActivityStep})
	if id2 <= id1 {
		t.Fatalf("expected strictly increasing activity ids, got %d then %d", id1, id2)
	}

	all, _ := s.ReadActivities(ctx, "job-1", 0)
	if len(all) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(all))
	}
	since, _ := s.ReadActivities(ctx, "job-1", id1)
	if len(since) != 1 {
		t.Fatalf("expected 1 activity since id1, got %d", len(since))
	}
}

func TestMemoryStoreCapabilitySetRoundTripIsDeepCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	set := models.CapabilitySet{"web": 3}
	if err := s.SetCapabilitySet(ctx, "conv-1", set); err != nil {
		t.Fatalf("set: %v", err)
	}
	set["web"] = 99 // mutate caller's copy after the call

	got, err := s.GetCapabilitySet(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["web"] != 3 {
		t.Fatalf("store must not alias the caller's map; got %v", got)
	}

	got["web"] = 42 // mutate the returned copy
	got2, _ := s.GetCapabilitySet(ctx, "conv-1")
	if got2["web"] != 3 {
		t.Fatalf("GetCapabilitySet must return a fresh copy each call, got %v", got2)
	}
}

func TestMemoryStoreGetCapabilitySetDefaultsToEmpty(t *testing.T) {
	s := NewMemoryStore()
	set, err := s.GetCapabilitySet(context.Background(), "unknown-conv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set for an unknown conversation, got %v", set)
	}
}
