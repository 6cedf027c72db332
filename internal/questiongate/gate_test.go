package questiongate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestOpenResolveRoundTrip(t *testing.T) {
	g := New()
	ch := g.Open("job-1", KindAskUser)

	done := make(chan Answer, 1)
	go func() {
		ans, err := Wait(context.Background(), ch)
		if err != nil {
			t.Errorf("unexpected wait error: %v", err)
		}
		done <- ans
	}()

	// Give the waiter goroutine a moment to block, then resolve.
	time.Sleep(10 * time.Millisecond)
	if err := g.Resolve("job-1", Answer{Text: "red"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	select {
	case ans := <-done:
		if ans.Text != "red" {
			t.Fatalf("expected answer text 'red', got %q", ans.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolved answer")
	}
}

func TestResolveWithoutPendingWaitReturnsError(t *testing.T) {
	g := New()
	if err := g.Resolve("no-such-job", Answer{Text: "x"}); err != ErrAlreadyAnswered {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
}

func TestResolveIsOneShot(t *testing.T) {
	g := New()
	g.Open("job-1", KindAskUser)

	if err := g.Resolve("job-1", Answer{Text: "first"}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := g.Resolve("job-1", Answer{Text: "second"}); err != ErrAlreadyAnswered {
		t.Fatalf("a second resolve on the same job must report no pending wait, got %v", err)
	}
}

func TestWaitUnblocksOnContextCancellation(t *testing.T) {
	g := New()
	ch := g.Open("job-1", KindAskUser)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := Wait(ctx, ch)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a context error")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock on context cancellation")
	}
}

func TestAbandonRemovesPendingWait(t *testing.T) {
	g := New()
	g.Open("job-1", KindAskUser)
	g.Abandon("job-1")

	if _, ok := g.Pending("job-1"); ok {
		t.Fatal("expected no pending wait after Abandon")
	}
	if err := g.Resolve("job-1", Answer{Text: "x"}); err != ErrAlreadyAnswered {
		t.Fatalf("expected ErrAlreadyAnswered after abandon, got %v", err)
	}
}

func TestPendingReportsKind(t *testing.T) {
	g := New()
	g.Open("job-1", KindOAuth)
	kind, ok := g.Pending("job-1")
	if !ok || kind != KindOAuth {
		t.Fatalf("expected (KindOAuth, true), got (%v, %v)", kind, ok)
	}
}

// TestAtMostOnePendingQuestionPerJob exercises the §4.9 guarantee: only one
// waiter can be registered per job id at a time, so a second Open for the
// same job id simply replaces the first — a caller must transition the job
// out of waiting_for_input before opening a new wait for it.
func TestAtMostOnePendingQuestionPerJob(t *testing.T) {
	g := New()
	first := g.Open("job-1", KindAskUser)
	second := g.Open("job-1", KindAskUser)

	if err := g.Resolve("job-1", Answer{Text: "answer"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	select {
	case <-first:
		t.Fatal("the first, superseded channel must never receive an answer")
	default:
	}
	select {
	case ans := <-second:
		if ans.Text != "answer" {
			t.Fatalf("unexpected answer: %+v", ans)
		}
	default:
		t.Fatal("the second, active channel should have received the answer")
	}
}

func TestConcurrentOpenResolveDoesNotRace(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "job"
			ch := g.Open(id+string(rune('A'+i%26)), KindAskUser)
			_ = g.Resolve(id+string(rune('A'+i%26)), Answer{Text: "ok"})
			<-ch
		}()
	}
	wg.Wait()
}
