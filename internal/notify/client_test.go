package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/hospital-locator/internal/backend"
	"github.com/stuartshay/hospital-locator/internal/calculator"
)

var pune = calculator.Coordinate{Latitude: 18.5204, Longitude: 73.8567}

// fakeBackend serves the notify endpoints. statuses[i] answers the i-th
// status fetch; an empty entry answers with HTTP 500.
type fakeBackend struct {
	submitStatus int
	submitBody   string
	statuses     []string

	submits atomic.Int32
	fetches atomic.Int32

	mu       sync.Mutex
	lastBody map[string]any
	csrf     string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == NotifyPath:
		f.submits.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastBody = body
		f.csrf = r.Header.Get("X-CSRFToken")
		f.mu.Unlock()

		status := f.submitStatus
		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(f.submitBody))

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/notification-status/"):
		n := int(f.fetches.Add(1)) - 1
		st := ""
		if n < len(f.statuses) {
			st = f.statuses[n]
		} else if len(f.statuses) > 0 {
			st = f.statuses[len(f.statuses)-1]
		}
		if st == "" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": "Internal server error", "code": "SERVER_ERROR"}`))
			return
		}
		fmt.Fprintf(w, `{"id": 42, "user": "donor1", "status": %q, "notification_type": "BOTH",
			"retry_count": 0, "error_message": %q, "created_at": "2026-10-16T09:00:00.123456Z",
			"updated_at": "2026-10-16T09:00:04Z", "completed_at": null}`, st, failureMessage(st))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func failureMessage(status string) string {
	if strings.EqualFold(status, "FAILED") {
		return "SMS gateway unavailable"
	}
	return ""
}

const queuedBody = `{"job_id": 42, "status": "queued", "message": "Notification request queued successfully", "estimated_delivery": "2-5 minutes"}`

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// newClient returns a client whose sleeps are recorded instead of waited.
func newClient(t *testing.T, f *fakeBackend) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	api, err := backend.NewClient(backend.Options{BaseURL: srv.URL, CSRFToken: "csrf-1"})
	require.NoError(t, err)

	c := New(api, DefaultOptions())
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return c, &sleeps
}

func TestSubmit(t *testing.T) {
	f := &fakeBackend{submitBody: queuedBody}
	c, _ := newClient(t, f)

	sub, err := c.Submit(context.Background(), pune, 25)
	require.NoError(t, err)

	assert.Equal(t, "42", sub.Job.ID)
	assert.Equal(t, StatusQueued, sub.Job.Status)
	assert.Equal(t, "2-5 minutes", sub.Job.EstimatedDelivery)
	assert.False(t, sub.Synchronous)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "csrf-1", f.csrf)
	assert.Equal(t, map[string]any{
		"user_latitude":     18.5204,
		"user_longitude":    73.8567,
		"radius_km":         float64(25),
		"notification_type": "BOTH",
	}, f.lastBody)

	id, busy := c.InProgress()
	assert.True(t, busy)
	assert.Equal(t, "42", id)
}

func TestSubmit_AlreadyInProgress(t *testing.T) {
	f := &fakeBackend{submitBody: queuedBody}
	c, _ := newClient(t, f)

	_, err := c.Submit(context.Background(), pune, 10)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), pune, 10)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
	assert.Equal(t, int32(1), f.submits.Load(), "second submit makes no request")
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		message     string
		code        string
		rateLimited bool
	}{
		{
			name:        "rate limited",
			status:      http.StatusTooManyRequests,
			body:        `{"error": "Rate limit exceeded. Maximum 5 notification requests per hour.", "code": "RATE_LIMIT_EXCEEDED"}`,
			message:     "Rate limit exceeded",
			code:        "RATE_LIMIT_EXCEEDED",
			rateLimited: true,
		},
		{
			name:    "validation",
			status:  http.StatusBadRequest,
			body:    `{"error": "Invalid request data", "details": {"radius_km": ["too large"]}, "code": "VALIDATION_ERROR"}`,
			message: "Invalid request data",
			code:    "VALIDATION_ERROR",
		},
		{
			name:    "missing job id",
			status:  http.StatusCreated,
			body:    `{"status": "queued"}`,
			message: "no job_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeBackend{submitStatus: tt.status, submitBody: tt.body}
			c, _ := newClient(t, f)

			_, err := c.Submit(context.Background(), pune, 10)
			var subErr *SubmitError
			require.ErrorAs(t, err, &subErr)
			assert.Equal(t, tt.status, subErr.Status)
			assert.Contains(t, subErr.Message, tt.message)
			assert.Equal(t, tt.code, subErr.Code)
			assert.Equal(t, tt.rateLimited, subErr.RateLimited())

			_, busy := c.InProgress()
			assert.False(t, busy, "failed submit releases tracking")
		})
	}
}

func TestSubmit_SynchronousFallback(t *testing.T) {
	f := &fakeBackend{submitBody: `{"job_id": "77", "status": "completed", "message": "Notification processed", "processed_synchronously": true}`}
	c, sleeps := newClient(t, f)

	sub, err := c.Submit(context.Background(), pune, 5)
	require.NoError(t, err)
	assert.True(t, sub.Synchronous)
	assert.Equal(t, StatusCompleted, sub.Job.Status)
	assert.Equal(t, "77", sub.Job.ID)

	_, busy := c.InProgress()
	assert.False(t, busy)
	assert.Empty(t, *sleeps)
	assert.Zero(t, f.fetches.Load())
}

func TestPollUntilTerminal_CompletesOnLastAttempt(t *testing.T) {
	f := &fakeBackend{
		submitBody: queuedBody,
		statuses:   append(repeat("PROCESSING", 9), "COMPLETED"),
	}
	c, sleeps := newClient(t, f)

	sub, err := c.Submit(context.Background(), pune, 10)
	require.NoError(t, err)

	job, err := c.PollUntilTerminal(context.Background(), sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, int32(10), f.fetches.Load())
	assert.Equal(t, repeat2s(10), *sleeps)

	_, busy := c.InProgress()
	assert.False(t, busy, "terminal status releases tracking")
}

func TestPollUntilTerminal_BudgetExhausted(t *testing.T) {
	f := &fakeBackend{
		submitBody: queuedBody,
		statuses:   repeat("PROCESSING", 11),
	}
	c, _ := newClient(t, f)

	sub, err := c.Submit(context.Background(), pune, 10)
	require.NoError(t, err)

	job, err := c.PollUntilTerminal(context.Background(), sub.Job.ID)
	assert.ErrorIs(t, err, ErrPollBudgetExhausted)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, int32(10), f.fetches.Load(), "no 11th request")

	_, busy := c.InProgress()
	assert.False(t, busy)
}

func TestPollUntilTerminal_Failed(t *testing.T) {
	f := &fakeBackend{statuses: []string{"queued", "processing", "failed"}}
	c, _ := newClient(t, f)

	job, err := c.PollUntilTerminal(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "SMS gateway unavailable", job.ErrorMessage)
	assert.Equal(t, int32(3), f.fetches.Load(), "lowercase queued keeps polling")
}

func TestPoll_FetchErrorsCountAsAttempts(t *testing.T) {
	f := &fakeBackend{statuses: []string{"", "", "COMPLETED"}}
	c, _ := newClient(t, f)

	var observations []Observation
	for obs := range c.Poll(context.Background(), "42") {
		observations = append(observations, obs)
	}

	require.Len(t, observations, 3)
	assert.Error(t, observations[0].Err)
	assert.Error(t, observations[1].Err)
	require.NoError(t, observations[2].Err)
	assert.Equal(t, 3, observations[2].Attempt)
	assert.Equal(t, StatusCompleted, observations[2].Job.Status)
	assert.Equal(t, "42", observations[2].Job.ID)
}

func TestPoll_AllFetchesFail(t *testing.T) {
	f := &fakeBackend{}
	c, _ := newClient(t, f)

	job, err := c.PollUntilTerminal(context.Background(), "42")
	assert.ErrorIs(t, err, ErrPollBudgetExhausted)
	assert.Equal(t, "42", job.ID)
	assert.Equal(t, int32(10), f.fetches.Load())
}

func TestPoll_NotRestartable(t *testing.T) {
	f := &fakeBackend{statuses: []string{"COMPLETED"}}
	c, _ := newClient(t, f)

	seq := c.Poll(context.Background(), "42")
	n := 0
	for range seq {
		n++
	}
	for range seq {
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), f.fetches.Load())
}

func TestPoll_ConsumerStopsEarly(t *testing.T) {
	f := &fakeBackend{submitBody: queuedBody, statuses: repeat("PROCESSING", 10)}
	c, _ := newClient(t, f)

	sub, err := c.Submit(context.Background(), pune, 10)
	require.NoError(t, err)

	for obs := range c.Poll(context.Background(), sub.Job.ID) {
		if obs.Attempt == 2 {
			break
		}
	}
	assert.Equal(t, int32(2), f.fetches.Load())
	_, busy := c.InProgress()
	assert.False(t, busy)
}

func TestPoll_ContextCancelled(t *testing.T) {
	f := &fakeBackend{submitBody: queuedBody, statuses: repeat("PROCESSING", 10)}
	c, _ := newClient(t, f)
	c.sleep = sleepCtx
	c.opts.InitialDelay = time.Hour

	sub, err := c.Submit(context.Background(), pune, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.PollUntilTerminal(ctx, sub.Job.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.fetches.Load())

	_, busy := c.InProgress()
	assert.False(t, busy, "cancelled polling releases tracking")
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"queued", StatusQueued, true},
		{" Processing ", StatusProcessing, true},
		{"COMPLETED", StatusCompleted, true},
		{"failed", StatusFailed, true},
		{"RETRYING", Status("RETRYING"), false},
	}
	for _, tt := range tests {
		got, ok := ParseStatus(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestJobID_UnmarshalJSON(t *testing.T) {
	var v struct {
		ID JobID `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"id": 1234}`), &v))
	assert.Equal(t, JobID("1234"), v.ID)
	require.NoError(t, json.Unmarshal([]byte(`{"id": "abc-1"}`), &v))
	assert.Equal(t, JobID("abc-1"), v.ID)
	assert.Error(t, json.Unmarshal([]byte(`{"id": 1.5}`), &v))
}

func repeat2s(n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = 2 * time.Second
	}
	return out
}
