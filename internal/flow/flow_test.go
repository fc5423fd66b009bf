package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veriflow/veriflow/internal/logging"
	"github.com/veriflow/veriflow/internal/verclient"
)

type fakeClient struct {
	mu       sync.Mutex
	status   verclient.StatusResult
	statuses []string // successive check-registration answers
	checks   int
	session  verclient.RegistrationSessionResult
	fail     error
}

func (f *fakeClient) Status(context.Context) (verclient.StatusResult, error) {
	if f.fail != nil {
		return verclient.StatusResult{}, f.fail
	}
	return f.status, nil
}

func (f *fakeClient) CreateRegistrationSession(context.Context) (verclient.RegistrationSessionResult, error) {
	if f.fail != nil {
		return verclient.RegistrationSessionResult{}, f.fail
	}
	return f.session, nil
}

func (f *fakeClient) CheckRegistration(context.Context, string) (verclient.RegistrationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return verclient.RegistrationStatus{}, f.fail
	}
	answer := f.statuses[len(f.statuses)-1]
	if f.checks < len(f.statuses) {
		answer = f.statuses[f.checks]
	}
	f.checks++
	return verclient.RegistrationStatus{Status: answer}, nil
}

func testConfig() Config {
	return Config{
		Countdown:     10 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		MaxPolls:      3,
		RedirectDelay: time.Millisecond,
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMountWithoutAttemptShowsIntro(t *testing.T) {
	f := New(&fakeClient{}, testConfig(), nil, nil, logging.Discard())
	defer f.Stop()

	f.Start(context.Background(), "", false)
	if got := f.State(); got != StateIntro {
		t.Fatalf("expected intro, got %s", got)
	}
}

func TestMountWithActiveAttemptShowsExistingPending(t *testing.T) {
	client := &fakeClient{status: verclient.StatusResult{
		Verification: &verclient.VerificationView{Status: "pending"},
	}}
	f := New(client, testConfig(), nil, nil, logging.Discard())
	defer f.Stop()

	f.Start(context.Background(), "", false)
	if got := f.State(); got != StateExistingPending {
		t.Fatalf("expected existing_pending, got %s", got)
	}
}

func TestMountAlreadyVerifiedSignsOutAfterCountdown(t *testing.T) {
	var signedOut atomic.Bool
	client := &fakeClient{status: verclient.StatusResult{ProfileVerified: true}}
	f := New(client, testConfig(), func() { signedOut.Store(true) }, nil, logging.Discard())
	defer f.Stop()

	f.Start(context.Background(), "", false)
	if got := f.State(); got != StateSuccess {
		t.Fatalf("expected success, got %s", got)
	}
	waitFor(t, signedOut.Load, "sign-out countdown")
}

func TestCallbackPollsUntilVerified(t *testing.T) {
	var signedOut atomic.Bool
	client := &fakeClient{statuses: []string{"pending", "pending", "verified"}}
	f := New(client, testConfig(), func() { signedOut.Store(true) }, nil, logging.Discard())
	defer f.Stop()

	f.Start(context.Background(), "reg-token", true)
	if got := f.State(); got != StateChecking {
		t.Fatalf("expected checking, got %s", got)
	}
	waitFor(t, func() bool { return f.State() == StateSuccess }, "success state")
	waitFor(t, signedOut.Load, "sign-out countdown")

	client.mu.Lock()
	checks := client.checks
	client.mu.Unlock()
	if checks != 3 {
		t.Fatalf("expected 3 polls, saw %d", checks)
	}
}

func TestCallbackExhaustsPollsAndParksOnPending(t *testing.T) {
	var signedOut atomic.Bool
	client := &fakeClient{statuses: []string{"pending"}}
	f := New(client, testConfig(), func() { signedOut.Store(true) }, nil, logging.Discard())
	defer f.Stop()

	f.Start(context.Background(), "reg-token", true)
	waitFor(t, func() bool { return f.State() == StatePending }, "pending state")
	waitFor(t, signedOut.Load, "sign-out countdown")
}

func TestCallbackRejectionShowsErrorAndRetryReturnsToIntro(t *testing.T) {
	client := &fakeClient{statuses: []string{"rejected"}}
	f := New(client, testConfig(), nil, nil, logging.Discard())
	defer f.Stop()

	f.Start(context.Background(), "reg-token", true)
	waitFor(t, func() bool { return f.State() == StateError }, "error state")
	if f.ErrorMessage() == "" {
		t.Fatal("expected an error message")
	}

	f.Retry()
	if got := f.State(); got != StateIntro {
		t.Fatalf("expected intro after retry, got %s", got)
	}
	if f.ErrorMessage() != "" {
		t.Fatal("retry should clear the error message")
	}
}

func TestInitiateRedirects(t *testing.T) {
	var mu sync.Mutex
	var redirectedTo string
	client := &fakeClient{session: verclient.RegistrationSessionResult{
		RegistrationToken: "reg-token",
		RedirectURL:       "https://magic.example.test/v/s1",
	}}
	f := New(client, testConfig(), nil, func(url string) {
		mu.Lock()
		redirectedTo = url
		mu.Unlock()
	}, logging.Discard())
	defer f.Stop()

	f.Initiate(context.Background())
	if got := f.State(); got != StateRedirecting {
		t.Fatalf("expected redirecting, got %s", got)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return redirectedTo == "https://magic.example.test/v/s1"
	}, "redirect")
}

func TestInitiateFailureShowsError(t *testing.T) {
	client := &fakeClient{fail: errors.New("provider down")}
	f := New(client, testConfig(), nil, nil, logging.Discard())
	defer f.Stop()

	f.Initiate(context.Background())
	if got := f.State(); got != StateError {
		t.Fatalf("expected error, got %s", got)
	}
}

func TestStopCancelsCountdown(t *testing.T) {
	var signedOut atomic.Bool
	client := &fakeClient{status: verclient.StatusResult{ProfileVerified: true}}
	cfg := testConfig()
	cfg.Countdown = 50 * time.Millisecond
	f := New(client, cfg, func() { signedOut.Store(true) }, nil, logging.Discard())

	f.Start(context.Background(), "", false)
	f.Stop()
	time.Sleep(80 * time.Millisecond)
	if signedOut.Load() {
		t.Fatal("stopped flow must not fire the countdown")
	}
}

func TestIsMobileUserAgent(t *testing.T) {
	if !IsMobileUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)") {
		t.Fatal("iPhone UA should be mobile")
	}
	if !IsMobileUserAgent("Mozilla/5.0 (Linux; Android 14; Pixel 8)") {
		t.Fatal("Android UA should be mobile")
	}
	if IsMobileUserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)") {
		t.Fatal("desktop UA should not be mobile")
	}
}
