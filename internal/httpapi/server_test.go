package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/agentcore/internal/jobqueue"
	"github.com/haasonsaas/agentcore/internal/questiongate"
	"github.com/haasonsaas/agentcore/internal/store"
	"github.com/haasonsaas/agentcore/pkg/models"
)

type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, job models.Job) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	q := jobqueue.New(jobqueue.Config{PollInterval: 0}, st, blockingRunner{}, nil, nil)
	gate := questiongate.New()
	return New(st, q, gate, nil, nil), st
}

func TestHandleChatCreatesConversationAndJob(t *testing.T) {
	s, st := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"message": "hello there"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job models.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID == "" || job.ConversationID == "" {
		t.Fatalf("expected job and conversation ids set: %+v", job)
	}
	if job.Status != models.JobPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil || got.UserMessage != "hello there" {
		t.Fatalf("job not persisted correctly: %+v err=%v", got, err)
	}
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"message": ""})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleChatRejectsMalformedJSON(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetJobNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRespondRejectsNonWaitingJob(t *testing.T) {
	s, st := newTestServer(t)
	conv, _ := st.CreateConversation(context.Background(), models.Conversation{})
	job, _ := st.CreateJob(context.Background(), conv.ID, "hi")

	body, _ := json.Marshal(map[string]string{"text": "42"})
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/respond", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a job not waiting for input, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleRespondDeliversAnswerToWaitingJob(t *testing.T) {
	s, st := newTestServer(t)
	conv, _ := st.CreateConversation(context.Background(), models.Conversation{})
	job, _ := st.CreateJob(context.Background(), conv.ID, "hi")
	_ = st.UpdateJobStatus(context.Background(), job.ID, models.JobRunning, store.JobUpdate{})
	_ = st.UpdateJobStatus(context.Background(), job.ID, models.JobWaitingForInput, store.JobUpdate{})

	ch := s.gate.Open(job.ID, questiongate.KindAskUser)

	body, _ := json.Marshal(map[string]string{"text": "blue"})
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/respond", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case ans := <-ch:
		if ans.Text != "blue" {
			t.Fatalf("unexpected answer: %+v", ans)
		}
	default:
		t.Fatal("expected the answer to have been delivered to the waiting channel")
	}
}

func TestHandleCancelRejectsTerminalJob(t *testing.T) {
	s, st := newTestServer(t)
	conv, _ := st.CreateConversation(context.Background(), models.Conversation{})
	job, _ := st.CreateJob(context.Background(), conv.ID, "hi")
	_ = st.UpdateJobStatus(context.Background(), job.ID, models.JobRunning, store.JobUpdate{})
	_ = st.UpdateJobStatus(context.Background(), job.ID, models.JobCompleted, store.JobUpdate{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a terminal job, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCancelStopsRunningJobAndRecordsTerminalActivity(t *testing.T) {
	s, st := newTestServer(t)
	conv, _ := st.CreateConversation(context.Background(), models.Conversation{})
	job, _ := st.CreateJob(context.Background(), conv.ID, "hi")
	_ = st.UpdateJobStatus(context.Background(), job.ID, models.JobRunning, store.JobUpdate{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := st.GetJob(context.Background(), job.ID)
	if err != nil || got.Status != models.JobCancelled {
		t.Fatalf("expected job cancelled, got %+v err=%v", got, err)
	}

	activities, _ := st.ReadActivities(context.Background(), job.ID, 0)
	foundCancelled := false
	for _, a := range activities {
		if a.Type == models.ActivityCancelled {
			foundCancelled = true
		}
	}
	if !foundCancelled {
		t.Fatal("expected a cancelled terminal activity record")
	}
}

func TestHandleListConversationsReturnsAll(t *testing.T) {
	s, st := newTestServer(t)
	_, _ = st.CreateConversation(context.Background(), models.Conversation{})
	_, _ = st.CreateConversation(context.Background(), models.Conversation{})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var convs []models.Conversation
	_ = json.Unmarshal(rec.Body.Bytes(), &convs)
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
}

func TestHandleForkCopiesMessagesIntoNewConversation(t *testing.T) {
	s, st := newTestServer(t)
	conv, _ := st.CreateConversation(context.Background(), models.Conversation{})
	_, _ = st.AppendMessage(context.Background(), models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "hi"})
	_, _ = st.AppendMessage(context.Background(), models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Content: "hello"})

	req := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID+"/fork", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var fork models.Conversation
	_ = json.Unmarshal(rec.Body.Bytes(), &fork)
	if fork.ForkedFrom != conv.ID || fork.BranchNumber != 1 {
		t.Fatalf("unexpected fork metadata: %+v", fork)
	}

	msgs, _ := st.ReadMessages(context.Background(), fork.ID, 0, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 copied messages, got %d", len(msgs))
	}
}

func TestRequestIDMiddlewareSetsHeaderWhenAbsent(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated X-Request-ID header")
	}
}
