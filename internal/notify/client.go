package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stuartshay/hospital-locator/internal/backend"
	"github.com/stuartshay/hospital-locator/internal/calculator"
)

// NotifyPath is the job submission endpoint.
const NotifyPath = "/api/notify-hospitals/"

// NotificationTypeBoth requests SMS and email.
const NotificationTypeBoth = "BOTH"

var tracer = otel.Tracer("github.com/stuartshay/hospital-locator/internal/notify")

var (
	// ErrAlreadyInProgress is returned by Submit while a job is tracked.
	ErrAlreadyInProgress = errors.New("notification request already in progress")

	// ErrPollBudgetExhausted means polling stopped before a terminal status.
	// The job outcome is unknown.
	ErrPollBudgetExhausted = errors.New("notification status still pending after polling budget")
)

// SubmitError is a failed submission.
type SubmitError struct {
	Status  int
	Message string
	Code    string
}

func (e *SubmitError) Error() string {
	if e.Status == 0 {
		return "notification request failed: " + e.Message
	}
	return fmt.Sprintf("notification request failed (HTTP %d): %s", e.Status, e.Message)
}

// RateLimited reports a 429 response.
func (e *SubmitError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// API is the subset of the backend client used here.
type API interface {
	Get(ctx context.Context, path string, query url.Values) (*backend.Response, error)
	PostJSON(ctx context.Context, path string, body any) (*backend.Response, error)
}

// Options control polling.
type Options struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
}

// DefaultOptions waits 2s, then polls every 2s, at most 10 times.
func DefaultOptions() Options {
	return Options{
		InitialDelay: 2 * time.Second,
		Interval:     2 * time.Second,
		MaxAttempts:  10,
	}
}

// Submission is an accepted notification request.
type Submission struct {
	Job     Job
	Message string
	// Synchronous is set when the backend processed the job inline. Job is
	// then terminal and there is nothing to poll.
	Synchronous bool
}

// Observation is one poll attempt. Err is set when the fetch failed; the
// attempt still counts against the budget.
type Observation struct {
	Attempt int
	Job     Job
	Err     error
}

// Client submits and polls notification jobs. At most one job is tracked
// at a time.
type Client struct {
	api   API
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	busy    bool
	tracked string
}

// New creates a client.
func New(api API, opts Options) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Client{api: api, opts: opts, sleep: sleepCtx}
}

// InProgress returns the tracked job id, if any.
func (c *Client) InProgress() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracked, c.busy
}

// Submit requests notifications to the partner hospitals within radiusKM
// of center.
func (c *Client) Submit(ctx context.Context, center calculator.Coordinate, radiusKM int) (Submission, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Submission{}, ErrAlreadyInProgress
	}
	c.busy = true
	c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "notify.Submit")
	defer span.End()
	span.SetAttributes(attribute.Int("radius_km", radiusKM))

	sub, err := c.submit(ctx, center, radiusKM)
	if err != nil {
		c.release("")
		span.SetStatus(codes.Error, err.Error())
		return Submission{}, err
	}

	if sub.Synchronous || sub.Job.Status.Terminal() {
		c.release("")
	} else {
		c.mu.Lock()
		c.tracked = sub.Job.ID
		c.mu.Unlock()
	}

	span.SetAttributes(
		attribute.String("job_id", sub.Job.ID),
		attribute.String("status", string(sub.Job.Status)),
	)
	log.Info().
		Str("job_id", sub.Job.ID).
		Str("status", string(sub.Job.Status)).
		Bool("synchronous", sub.Synchronous).
		Msg("Notification job submitted")

	return sub, nil
}

func (c *Client) submit(ctx context.Context, center calculator.Coordinate, radiusKM int) (Submission, error) {
	resp, err := c.api.PostJSON(ctx, NotifyPath, map[string]any{
		"user_latitude":     center.Latitude,
		"user_longitude":    center.Longitude,
		"radius_km":         radiusKM,
		"notification_type": NotificationTypeBoth,
	})
	if err != nil {
		return Submission{}, &SubmitError{Message: err.Error()}
	}
	if !resp.OK() {
		env := resp.Envelope()
		return Submission{}, &SubmitError{Status: resp.Status, Message: env.Error, Code: env.Code}
	}

	var p submitPayload
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return Submission{}, &SubmitError{Status: resp.Status, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if p.JobID == nil || *p.JobID == "" {
		return Submission{}, &SubmitError{Status: resp.Status, Message: "malformed response: no job_id"}
	}

	status := StatusQueued
	if p.Status != "" {
		st, ok := ParseStatus(p.Status)
		if !ok {
			return Submission{}, &SubmitError{Status: resp.Status, Message: fmt.Sprintf("malformed response: unknown status %q", p.Status)}
		}
		status = st
	}

	return Submission{
		Job: Job{
			ID:                string(*p.JobID),
			Status:            status,
			NotificationType:  NotificationTypeBoth,
			EstimatedDelivery: p.EstimatedDelivery,
		},
		Message:     p.Message,
		Synchronous: p.ProcessedSynchronously,
	}, nil
}

// Poll observes a job: it waits InitialDelay, then fetches the status up to
// MaxAttempts times, Interval apart. It stops after a terminal status, when
// the budget is spent, when ctx is done or when the consumer stops. Tracking
// of jobID is released when the sequence ends. The sequence can be ranged
// over once.
func (c *Client) Poll(ctx context.Context, jobID string) iter.Seq[Observation] {
	var used atomic.Bool
	return func(yield func(Observation) bool) {
		if used.Swap(true) {
			return
		}
		defer c.release(jobID)

		ctx, span := tracer.Start(ctx, "notify.Poll")
		defer span.End()
		span.SetAttributes(attribute.String("job_id", jobID))

		delay := c.opts.InitialDelay
		for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
			if err := c.sleep(ctx, delay); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return
			}
			delay = c.opts.Interval

			job, err := c.fetch(ctx, jobID)
			if err != nil {
				log.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("Notification status poll failed")
			}
			span.SetAttributes(attribute.Int("attempts", attempt))

			if !yield(Observation{Attempt: attempt, Job: job, Err: err}) {
				return
			}
			if err == nil && job.Status.Terminal() {
				return
			}
		}
	}
}

// PollUntilTerminal drains Poll and returns the last known job. When the
// budget runs out first it returns that job with ErrPollBudgetExhausted.
func (c *Client) PollUntilTerminal(ctx context.Context, jobID string) (Job, error) {
	last := Job{ID: jobID}
	attempts := 0
	for obs := range c.Poll(ctx, jobID) {
		attempts = obs.Attempt
		if obs.Err == nil {
			last = obs.Job
		}
	}

	if last.Status.Terminal() {
		return last, nil
	}
	if err := ctx.Err(); err != nil {
		return last, err
	}
	return last, fmt.Errorf("%w: job %s after %d attempts (last status %q)", ErrPollBudgetExhausted, jobID, attempts, last.Status)
}

// StatusPath returns the status endpoint for a job.
func StatusPath(jobID string) string {
	return "/api/notification-status/" + url.PathEscape(jobID) + "/"
}

func (c *Client) fetch(ctx context.Context, jobID string) (Job, error) {
	resp, err := c.api.Get(ctx, StatusPath(jobID), nil)
	if err != nil {
		return Job{}, err
	}
	if !resp.OK() {
		return Job{}, fmt.Errorf("job status: %s", resp.Envelope().Error)
	}
	return decodeStatus(resp.Body, jobID)
}

// release stops tracking. An empty jobID releases unconditionally.
func (c *Client) release(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if jobID == "" || c.tracked == jobID {
		c.busy = false
		c.tracked = ""
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
