package verclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/veriflow/veriflow/internal/document"
)

// ErrDocumentRequired means initiate was called before a document was uploaded.
var ErrDocumentRequired = errors.New("upload an identity document first")

// ErrBusy means another operation of the same kind is still in flight.
var ErrBusy = errors.New("operation already in progress")

// Controller drives the verification flow for one signed-in user. It caches
// the latest status, guards against concurrent duplicate operations and runs
// the client-side upload checks before any request leaves the process.
type Controller struct {
	client *Client

	mu          sync.Mutex
	status      *StatusResult
	documentKey string
	documentURL string
	initiating  bool
	uploading   bool
	analyzing   bool
	refreshing  bool

	now func() time.Time
}

// NewController wraps a client in flow state tracking.
func NewController(client *Client) *Controller {
	return &Controller{client: client, now: time.Now}
}

// State is a snapshot of the controller's flags and cached status.
type State struct {
	Status      *StatusResult
	DocumentURL string
	Initiating  bool
	Uploading   bool
	Analyzing   bool
	Refreshing  bool
}

// State returns the current snapshot.
func (ctl *Controller) State() State {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return State{
		Status:      ctl.status,
		DocumentURL: ctl.documentURL,
		Initiating:  ctl.initiating,
		Uploading:   ctl.uploading,
		Analyzing:   ctl.analyzing,
		Refreshing:  ctl.refreshing,
	}
}

// Refresh fetches the caller's verification status and caches it.
func (ctl *Controller) Refresh(ctx context.Context) (StatusResult, error) {
	if err := ctl.acquire(&ctl.refreshing); err != nil {
		return StatusResult{}, err
	}
	defer ctl.release(&ctl.refreshing)

	res, err := ctl.client.Status(ctx)
	if err != nil {
		return StatusResult{}, err
	}
	ctl.mu.Lock()
	ctl.status = &res
	ctl.mu.Unlock()
	return res, nil
}

// Upload validates the file locally and, only when it passes, sends it to the
// server. Validation failures never reach the network.
func (ctl *Controller) Upload(ctx context.Context, filename, contentType string, data []byte) (UploadResult, error) {
	if err := document.Validate(contentType, len(data)); err != nil {
		return UploadResult{}, err
	}
	if err := ctl.acquire(&ctl.uploading); err != nil {
		return UploadResult{}, err
	}
	defer ctl.release(&ctl.uploading)

	ctl.setAnalyzing(true)
	defer ctl.setAnalyzing(false)

	res, err := ctl.client.UploadDocument(ctx, filename, contentType, data)
	if err != nil {
		return UploadResult{}, err
	}
	ctl.mu.Lock()
	ctl.documentKey = res.Key
	ctl.documentURL = res.URL
	ctl.mu.Unlock()
	return res, nil
}

// Initiate starts a provider session. It refuses to run until a document has
// been uploaded in this flow.
func (ctl *Controller) Initiate(ctx context.Context) (SessionResult, error) {
	ctl.mu.Lock()
	docURL := ctl.documentURL
	ctl.mu.Unlock()
	if docURL == "" {
		return SessionResult{}, ErrDocumentRequired
	}
	if err := ctl.acquire(&ctl.initiating); err != nil {
		return SessionResult{}, err
	}
	defer ctl.release(&ctl.initiating)

	res, err := ctl.client.CreateSession(ctx, docURL)
	if err != nil {
		return SessionResult{}, err
	}
	return res, nil
}

// IsStaleRequest reports whether the cached attempt has been sitting in an
// active state long enough that the user should start over.
func (ctl *Controller) IsStaleRequest() bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.status == nil || ctl.status.Verification == nil {
		return false
	}
	v := ctl.status.Verification
	switch v.Status {
	case "initiated", "pending":
	default:
		return false
	}
	return ctl.now().Sub(v.CreatedAt) > 2*time.Hour
}

// DeleteDocumentAndReset removes the current attempt plus its stored document
// and clears the local flow state so the user returns to the start.
func (ctl *Controller) DeleteDocumentAndReset(ctx context.Context) error {
	ctl.mu.Lock()
	key := ctl.documentKey
	ctl.mu.Unlock()

	if err := ctl.client.DeleteAttempt(ctx, key); err != nil {
		return err
	}
	ctl.mu.Lock()
	ctl.status = nil
	ctl.documentKey = ""
	ctl.documentURL = ""
	ctl.mu.Unlock()
	return nil
}

func (ctl *Controller) acquire(flag *bool) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if *flag {
		return ErrBusy
	}
	*flag = true
	return nil
}

func (ctl *Controller) release(flag *bool) {
	ctl.mu.Lock()
	*flag = false
	ctl.mu.Unlock()
}

func (ctl *Controller) setAnalyzing(v bool) {
	ctl.mu.Lock()
	ctl.analyzing = v
	ctl.mu.Unlock()
}
