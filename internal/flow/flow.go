// Package flow drives the registration-time verification walkthrough: a small
// state machine that decides what the signup screen shows and when the session
// is forcibly ended.
package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/veriflow/veriflow/internal/verclient"
)

// State names the screen the flow is on.
type State string

const (
	StateLoading         State = "loading"
	StateIntro           State = "intro"
	StateInitiating      State = "initiating"
	StateRedirecting     State = "redirecting"
	StateChecking        State = "checking"
	StateExistingPending State = "existing_pending"
	StatePending         State = "pending"
	StateSuccess         State = "success"
	StateError           State = "error"
)

// Config tunes the flow's timers. Zero values fall back to production
// defaults; tests shrink them.
type Config struct {
	// Countdown runs on success and pending before the session is ended.
	Countdown time.Duration
	// PollInterval spaces the checking re-polls.
	PollInterval time.Duration
	// MaxPolls bounds checking before the flow gives up and parks on pending.
	MaxPolls int
	// RedirectDelay holds the redirecting screen before leaving the app.
	RedirectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Countdown == 0 {
		c.Countdown = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.MaxPolls == 0 {
		c.MaxPolls = 20
	}
	if c.RedirectDelay == 0 {
		c.RedirectDelay = 1500 * time.Millisecond
	}
	return c
}

// Client is the slice of the verification API the flow needs.
type Client interface {
	Status(ctx context.Context) (verclient.StatusResult, error)
	CreateRegistrationSession(ctx context.Context) (verclient.RegistrationSessionResult, error)
	CheckRegistration(ctx context.Context, token string) (verclient.RegistrationStatus, error)
}

// Flow is the registration verification state machine. Every path that ends
// the session funnels through the one injected signOut callback so the
// "sign out and return to login" behavior cannot drift between screens.
type Flow struct {
	client  Client
	cfg     Config
	logger  *slog.Logger
	signOut func()
	// redirect hands off to the provider's hosted page.
	redirect func(url string)
	onChange func(State)

	mu      sync.Mutex
	state   State
	errMsg  string
	token   string
	stopped bool
	timers  []*time.Timer

	cancelPoll context.CancelFunc
	wg         sync.WaitGroup
}

// New builds a flow. signOut ends the session and sends the user to login;
// redirect leaves the app for the provider's hosted verification page.
func New(client Client, cfg Config, signOut func(), redirect func(url string), logger *slog.Logger) *Flow {
	return &Flow{
		client:   client,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		signOut:  signOut,
		redirect: redirect,
		state:    StateLoading,
	}
}

// OnChange registers a listener invoked after every transition. Set it before
// Start.
func (f *Flow) OnChange(fn func(State)) { f.onChange = fn }

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ErrorMessage returns the message shown on the error screen.
func (f *Flow) ErrorMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

// Start runs the mount-time decision. When the URL carried a provider
// callback marker and a registration token the flow goes straight to
// checking; otherwise it inspects any attempt already on file.
func (f *Flow) Start(ctx context.Context, registrationToken string, callbackMarker bool) {
	if callbackMarker && registrationToken != "" {
		f.mu.Lock()
		f.token = registrationToken
		f.mu.Unlock()
		f.transition(StateChecking)
		f.startPolling(ctx)
		return
	}

	status, err := f.client.Status(ctx)
	if err != nil {
		f.logger.Warn("status lookup failed on mount", "error", err)
		f.transition(StateIntro)
		return
	}
	switch {
	case status.ProfileVerified:
		// Already verified accounts re-authenticate rather than continuing
		// a registration session.
		f.toSuccess()
	case status.Verification != nil && isActive(status.Verification.Status):
		f.transition(StateExistingPending)
	default:
		f.transition(StateIntro)
	}
}

// Initiate starts a provider session and leaves for its hosted page.
func (f *Flow) Initiate(ctx context.Context) {
	f.transition(StateInitiating)
	res, err := f.client.CreateRegistrationSession(ctx)
	if err != nil {
		f.fail(err.Error())
		return
	}
	f.mu.Lock()
	f.token = res.RegistrationToken
	f.mu.Unlock()
	f.transition(StateRedirecting)
	f.after(f.cfg.RedirectDelay, func() {
		if f.redirect != nil {
			f.redirect(res.RedirectURL)
		}
	})
}

// Retry returns from the error screen to the intro.
func (f *Flow) Retry() {
	f.mu.Lock()
	f.errMsg = ""
	f.mu.Unlock()
	f.transition(StateIntro)
}

// Abandon ends the session from any screen.
func (f *Flow) Abandon() {
	f.Stop()
	if f.signOut != nil {
		f.signOut()
	}
}

// Stop cancels outstanding timers and polling. Safe to call more than once.
func (f *Flow) Stop() {
	f.mu.Lock()
	f.stopped = true
	for _, t := range f.timers {
		t.Stop()
	}
	f.timers = nil
	cancel := f.cancelPoll
	f.cancelPoll = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
}

func (f *Flow) startPolling(ctx context.Context) {
	pollCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancelPoll = cancel
	token := f.token
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cancel()
		for polls := 0; polls < f.cfg.MaxPolls; polls++ {
			if polls > 0 {
				select {
				case <-pollCtx.Done():
					return
				case <-time.After(f.cfg.PollInterval):
				}
			}
			status, err := f.client.CheckRegistration(pollCtx, token)
			if err != nil {
				if pollCtx.Err() != nil {
					return
				}
				f.fail(err.Error())
				return
			}
			switch status.Status {
			case "verified":
				f.toSuccess()
				return
			case "rejected":
				f.fail("document could not be verified")
				return
			case "initiated", "pending", "review_needed":
				// still processing, keep polling
			default:
				f.fail("unknown verification status")
				return
			}
		}
		// Still processing after the poll budget. Park on pending and end
		// the session so the user signs back in once the decision lands.
		f.toPending()
	}()
}

// toSuccess enters success and arms the sign-out countdown.
func (f *Flow) toSuccess() {
	f.transition(StateSuccess)
	f.armSignOut()
}

func (f *Flow) toPending() {
	f.transition(StatePending)
	f.armSignOut()
}

func (f *Flow) armSignOut() {
	f.after(f.cfg.Countdown, func() {
		if f.signOut != nil {
			f.signOut()
		}
	})
}

func (f *Flow) fail(msg string) {
	f.mu.Lock()
	f.errMsg = msg
	f.mu.Unlock()
	f.transition(StateError)
}

func (f *Flow) transition(next State) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.state = next
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn(next)
	}
}

// after schedules fn on a cancellable timer tracked for Stop.
func (f *Flow) after(d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	t := time.AfterFunc(d, fn)
	f.timers = append(f.timers, t)
}

func isActive(status string) bool {
	return status == "initiated" || status == "pending" || status == "review_needed"
}

// IsMobileUserAgent reports whether the user agent looks like a phone or
// tablet, used to pick the in-app versus new-tab redirect.
func IsMobileUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, marker := range []string{"android", "iphone", "ipad", "ipod", "mobile"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
