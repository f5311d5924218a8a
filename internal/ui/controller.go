package ui

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/directory"
	"github.com/stuartshay/hospital-locator/internal/eventloop"
	"github.com/stuartshay/hospital-locator/internal/geolocate"
	"github.com/stuartshay/hospital-locator/internal/history"
	"github.com/stuartshay/hospital-locator/internal/mapview"
	"github.com/stuartshay/hospital-locator/internal/notify"
)

// Locator acquires the user's position.
type Locator interface {
	RequestLocation(ctx context.Context) (calculator.Coordinate, error)
}

// Directory searches for hospitals.
type Directory interface {
	Search(ctx context.Context, center calculator.Coordinate, radiusKM int) (*directory.Snapshot, error)
	Radii() []int
}

// Notifier submits and polls notification jobs.
type Notifier interface {
	Submit(ctx context.Context, center calculator.Coordinate, radiusKM int) (notify.Submission, error)
	Poll(ctx context.Context, jobID string) iter.Seq[notify.Observation]
}

// Recorder stores an audit trail. It is optional.
type Recorder interface {
	RecordSearch(ctx context.Context, r history.SearchRecord) error
	RecordNotification(ctx context.Context, r history.NotificationRecord) error
}

// Selector is implemented by views that highlight the selected hospital.
type Selector interface {
	Select(id int64)
}

// recordTimeout bounds audit writes.
const recordTimeout = 5 * time.Second

// Deps are the controller's collaborators.
type Deps struct {
	Loop      *eventloop.Loop
	Locator   Locator
	Directory Directory
	Notifier  Notifier
	Map       *mapview.View
	View      View
	Recorder  Recorder
	// DefaultRadiusKM must be one of Directory.Radii().
	DefaultRadiusKM int
}

// Controller runs the workflow for one session.
type Controller struct {
	loop     *eventloop.Loop
	locator  Locator
	dir      Directory
	notifier Notifier
	mapView  *mapview.View
	view     View
	recorder Recorder

	// ctx bounds background work; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	pending inflight

	// Only touched on the loop.
	session Session
}

// New creates a controller in the Idle state.
func New(d Deps) (*Controller, error) {
	if d.Loop == nil || d.Locator == nil || d.Directory == nil || d.Notifier == nil || d.Map == nil || d.View == nil {
		return nil, errors.New("ui: missing dependency")
	}
	if !slices.Contains(d.Directory.Radii(), d.DefaultRadiusKM) {
		return nil, fmt.Errorf("ui: default radius %d km is not one of %v", d.DefaultRadiusKM, d.Directory.Radii())
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		loop:     d.Loop,
		locator:  d.Locator,
		dir:      d.Directory,
		notifier: d.Notifier,
		mapView:  d.Map,
		view:     d.View,
		recorder: d.Recorder,
		ctx:      ctx,
		cancel:   cancel,
		session:  Session{State: Idle, RadiusKM: d.DefaultRadiusKM},
	}

	// The session is not shared yet, so the initial render runs here.
	c.session.Controls = c.controls()
	c.view.SetControls(c.session.Controls)
	c.status(LevelInfo, "Click \"Get My Location\" to find nearby partner hospitals.")
	return c, nil
}

// Close cancels background work. Pending continuations still run if the
// loop is alive.
func (c *Controller) Close() {
	c.cancel()
}

// Settle waits until every dispatched action and the background work it
// started have finished.
func (c *Controller) Settle(ctx context.Context) error {
	return c.pending.wait(ctx)
}

// Session returns a copy of the session state.
func (c *Controller) Session(ctx context.Context) (Session, error) {
	var s Session
	err := c.loop.Do(ctx, "session", func(context.Context) error {
		s = c.session
		if s.Coordinate != nil {
			coord := *s.Coordinate
			s.Coordinate = &coord
		}
		if s.Job != nil {
			job := *s.Job
			s.Job = &job
		}
		return nil
	})
	return s, err
}

// GetLocation acquires the position and, on success, searches around it.
// It is ignored while another locate, search or submit is running.
func (c *Controller) GetLocation() (string, error) {
	return c.dispatch("get-location", func(context.Context) error {
		if c.session.State.Busy() {
			log.Debug().Stringer("state", c.session.State).Msg("Ignoring location request while busy")
			return nil
		}

		c.transition(LocatingUser)
		c.status(LevelInfo, "Getting your location...")

		c.background("location-result", func(ctx context.Context) func(context.Context) error {
			coord, err := c.locator.RequestLocation(ctx)
			return func(context.Context) error { return c.onLocation(coord, err) }
		})
		return nil
	})
}

func (c *Controller) onLocation(coord calculator.Coordinate, err error) error {
	if errors.Is(err, geolocate.ErrRequestInFlight) {
		c.transition(c.restingState())
		return nil
	}
	if err != nil {
		msg := "Unable to get your location"
		var locErr *geolocate.LocationError
		if errors.As(err, &locErr) {
			msg = locErr.Message()
		}
		log.Warn().Err(err).Msg("Location request failed")
		c.transition(c.restingState())
		c.fail(msg)
		return err
	}

	c.session.Coordinate = &coord
	if _, err := c.mapView.SetUserMarker(coord); err != nil {
		log.Error().Err(err).Msg("Failed to place user marker")
	}
	c.status(LevelSuccess, fmt.Sprintf("Location acquired (±%.0fm accuracy)", coord.AccuracyMeters))

	c.startSearch()
	return nil
}

// SetRadius changes the search radius and re-searches when a position is known.
func (c *Controller) SetRadius(radiusKM int) (string, error) {
	if !slices.Contains(c.dir.Radii(), radiusKM) {
		return "", fmt.Errorf("%w: %d km", directory.ErrInvalidRadius, radiusKM)
	}
	return c.dispatch("set-radius", func(context.Context) error {
		if c.session.RadiusKM == radiusKM && c.session.Snapshot != nil && c.session.Snapshot.RadiusKM == radiusKM {
			return nil
		}
		c.session.RadiusKM = radiusKM

		switch {
		case c.session.Coordinate == nil:
			return nil
		case c.session.State == LocatingUser || c.session.State == SubmittingNotification:
			// The radius is picked up by the search that follows the location,
			// or by the next search after the submission.
			return nil
		}
		c.startSearch()
		return nil
	})
}

// startSearch runs on the loop. A search already in flight is left running;
// the directory discards every response but the latest issued.
func (c *Controller) startSearch() {
	center := *c.session.Coordinate
	radius := c.session.RadiusKM

	c.transition(SearchingHospitals)
	c.status(LevelInfo, fmt.Sprintf("Searching for partner hospitals within %d km...", radius))

	c.background("search-result", func(ctx context.Context) func(context.Context) error {
		snap, err := c.dir.Search(ctx, center, radius)
		return func(context.Context) error { return c.onSearch(center, radius, snap, err) }
	})
}

func (c *Controller) onSearch(center calculator.Coordinate, radius int, snap *directory.Snapshot, err error) error {
	if errors.Is(err, directory.ErrSuperseded) {
		log.Debug().Int("radius_km", radius).Msg("Search superseded")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Int("radius_km", radius).Msg("Hospital search failed")
		c.record(func(ctx context.Context, r Recorder) error {
			return r.RecordSearch(ctx, history.SearchRecord{
				Latitude: center.Latitude, Longitude: center.Longitude, RadiusKM: radius, Error: err.Error(),
			})
		})
		if c.session.State == SearchingHospitals {
			c.transition(c.restingState())
		}
		c.fail("Failed to load nearby hospitals. Please try again.")
		return err
	}
	// A location acquired after this search started owns the next result.
	if c.session.Coordinate == nil || *c.session.Coordinate != center {
		return nil
	}

	c.session.Snapshot = snap
	c.session.SelectedHospitalID = 0

	metrics := calculator.CalculateMetrics(center, snap.Coordinates())

	// Markers first, then the list.
	handles, mapErr := c.mapView.SetHospitalMarkers(snap.Hospitals)
	if mapErr != nil {
		log.Error().Err(mapErr).Msg("Failed to place hospital markers")
	} else if len(handles) > 0 {
		if user := c.mapView.UserHandle(); user != nil {
			handles = append(handles, user)
		}
		if err := c.mapView.FitToMarkers(handles...); err != nil {
			log.Error().Err(err).Msg("Failed to fit map to markers")
		}
	}
	if sel, ok := c.view.(Selector); ok {
		sel.Select(0)
	}
	c.view.RenderHospitals(snap, metrics)

	if c.session.State == SearchingHospitals {
		c.transition(c.restingState())
	} else {
		c.refreshControls()
	}

	if n := len(snap.Hospitals); n == 0 {
		c.status(LevelWarning, fmt.Sprintf("No partner hospitals found within %d km.", radius))
	} else {
		c.status(LevelSuccess, fmt.Sprintf("Found %d partner hospitals within %d km.", n, radius))
	}

	c.record(func(ctx context.Context, r Recorder) error {
		return r.RecordSearch(ctx, history.SearchRecord{
			Latitude:       center.Latitude,
			Longitude:      center.Longitude,
			RadiusKM:       radius,
			HospitalsFound: len(snap.Hospitals),
			NearestKM:      metrics.NearestKM,
		})
	})
	return nil
}

// RequestNotifications submits a notification job for the current position
// and radius, then polls it. It is ignored while busy or while a job is
// being polled.
func (c *Controller) RequestNotifications() (string, error) {
	return c.dispatch("request-notifications", func(context.Context) error {
		switch {
		case c.session.State.Busy() || c.session.JobActive:
			log.Debug().Stringer("state", c.session.State).Msg("Ignoring notification request")
			return nil
		case c.session.Coordinate == nil:
			c.toast(LevelWarning, "Please enable location access to find nearby hospitals.")
			return nil
		case c.session.HospitalCount() == 0:
			c.toast(LevelWarning, "There are no partner hospitals to notify within the selected radius.")
			return nil
		}

		center := *c.session.Coordinate
		radius := c.session.RadiusKM

		c.transition(SubmittingNotification)
		c.status(LevelInfo, "Sending notification request...")

		c.background("submit-result", func(ctx context.Context) func(context.Context) error {
			sub, err := c.notifier.Submit(ctx, center, radius)
			return func(context.Context) error { return c.onSubmit(center, radius, sub, err) }
		})
		return nil
	})
}

func (c *Controller) onSubmit(center calculator.Coordinate, radius int, sub notify.Submission, err error) error {
	if errors.Is(err, notify.ErrAlreadyInProgress) {
		c.transition(c.restingState())
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("Notification request failed")
		msg := err.Error()
		var subErr *notify.SubmitError
		if errors.As(err, &subErr) {
			msg = subErr.Message
		}
		c.transition(c.restingState())
		c.fail("Failed to send notifications: " + msg)
		return err
	}

	job := sub.Job
	c.session.Job = &job

	if sub.Synchronous || job.Status.Terminal() {
		c.finishJob(center, radius, job, 0, nil)
		return nil
	}

	eta := job.EstimatedDelivery
	if eta == "" {
		eta = "a few minutes"
	}
	c.session.JobActive = true
	c.transition(PollingNotification)
	c.succeed(fmt.Sprintf("Notifications queued successfully! You'll receive SMS and email within %s.", eta))

	jobID := job.ID
	c.background("poll-result", func(ctx context.Context) func(context.Context) error {
		var (
			last     = job
			attempts int
		)
		for obs := range c.notifier.Poll(ctx, jobID) {
			attempts = obs.Attempt
			if obs.Err != nil {
				continue
			}
			last = obs.Job
			observed := obs.Job
			c.post("poll-update", func(context.Context) error {
				if c.session.Job != nil && c.session.Job.ID == observed.ID {
					c.session.Job = &observed
				}
				return nil
			})
		}

		var pollErr error
		switch {
		case last.Status.Terminal():
		case ctx.Err() != nil:
			pollErr = ctx.Err()
		default:
			pollErr = notify.ErrPollBudgetExhausted
		}
		return func(context.Context) error {
			c.finishJob(center, radius, last, attempts, pollErr)
			return nil
		}
	})
	return nil
}

// finishJob runs on the loop when a job reaches a terminal status or
// polling stops.
func (c *Controller) finishJob(center calculator.Coordinate, radius int, job notify.Job, attempts int, pollErr error) {
	c.session.Job = &job
	c.session.JobActive = false

	switch {
	case job.Status == notify.StatusCompleted:
		c.succeed("Notifications sent successfully! Check your SMS and email.")
	case job.Status == notify.StatusFailed:
		msg := job.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		c.fail("Notification failed: " + msg)
	case errors.Is(pollErr, notify.ErrPollBudgetExhausted):
		c.status(LevelWarning, "Notification status is still pending. Delivery may take a few more minutes.")
		c.toast(LevelWarning, "Stopped checking notification status.")
	default:
		log.Info().Err(pollErr).Str("job_id", job.ID).Msg("Notification polling stopped")
	}

	if c.session.State == PollingNotification || c.session.State == SubmittingNotification {
		c.transition(c.restingState())
	} else {
		c.refreshControls()
	}

	c.record(func(ctx context.Context, r Recorder) error {
		return r.RecordNotification(ctx, history.NotificationRecord{
			JobID:        job.ID,
			Latitude:     center.Latitude,
			Longitude:    center.Longitude,
			RadiusKM:     radius,
			Status:       string(job.Status),
			ErrorMessage: job.ErrorMessage,
			Attempts:     attempts,
		})
	})
}

// SelectHospital focuses the map on a hospital from the current list.
func (c *Controller) SelectHospital(id int64) (string, error) {
	return c.dispatch("select-hospital", func(context.Context) error {
		if c.session.Coordinate == nil {
			c.toast(LevelWarning, "Please enable location access to get directions to the hospital.")
			return nil
		}
		if c.session.Snapshot == nil {
			return fmt.Errorf("hospital %d: no hospital list", id)
		}
		h, ok := c.session.Snapshot.Find(id)
		if !ok {
			c.toast(LevelWarning, "That hospital is not in the current list.")
			return fmt.Errorf("hospital %d not in current list", id)
		}

		c.session.SelectedHospitalID = id
		if err := c.mapView.CenterOn(h.Coordinate(), mapview.FocusZoom); err != nil {
			log.Error().Err(err).Int64("hospital_id", id).Msg("Failed to focus hospital")
		}
		if sel, ok := c.view.(Selector); ok {
			sel.Select(id)
			c.view.RenderHospitals(c.session.Snapshot, calculator.CalculateMetrics(*c.session.Coordinate, c.session.Snapshot.Coordinates()))
		}

		distance := h.DistanceKM
		if distance == 0 {
			distance = calculator.DistanceKM(*c.session.Coordinate, h.Coordinate())
		}
		text := fmt.Sprintf("Route to %s: %.1f km", h.Name, distance)
		if h.EmergencyContact != "" {
			text += ", Emergency: " + h.EmergencyContact
		}
		c.status(LevelInfo, text)
		return nil
	})
}

// CycleMapStyle switches to the next base map style.
func (c *Controller) CycleMapStyle() (string, error) {
	return c.dispatch("cycle-map-style", func(context.Context) error {
		c.session.MapStyle = (c.session.MapStyle + 1) % len(mapview.Styles)
		c.toast(LevelInfo, "Map style: "+mapview.StyleAt(c.session.MapStyle).Name)
		return nil
	})
}

// PageData snapshots surface for the map page with the session's style and
// list panel.
func (c *Controller) PageData(ctx context.Context, surface *mapview.MemorySurface) (mapview.PageData, error) {
	var data mapview.PageData
	err := c.loop.Do(ctx, "page-data", func(context.Context) error {
		data = mapview.PageDataFrom(surface, mapview.StyleAt(c.session.MapStyle))

		var metrics calculator.DistanceMetrics
		if c.session.Coordinate != nil && c.session.Snapshot != nil {
			metrics = calculator.CalculateMetrics(*c.session.Coordinate, c.session.Snapshot.Coordinates())
		}
		panel, err := RenderPanel(c.session.Snapshot, metrics, c.session.SelectedHospitalID)
		if err != nil {
			return err
		}
		data.Panel = panel
		return nil
	})
	return data, err
}

// restingState is where the workflow settles after an activity ends.
func (c *Controller) restingState() State {
	switch {
	case c.session.JobActive:
		return PollingNotification
	case c.session.Snapshot != nil:
		return HospitalsReady
	default:
		return Idle
	}
}

func (c *Controller) transition(to State) {
	if c.session.State != to {
		log.Debug().Stringer("from", c.session.State).Stringer("to", to).Msg("State transition")
	}
	c.session.State = to
	c.refreshControls()
}

func (c *Controller) refreshControls() {
	c.session.Controls = c.controls()
	c.view.SetControls(c.session.Controls)
}

func (c *Controller) controls() Controls {
	s := c.session
	ctl := Controls{
		LocateEnabled: !s.State.Busy(),
		LocateLabel:   LabelLocate,
		RadiusEnabled: s.State != SubmittingNotification,
		NotifyEnabled: !s.State.Busy() && !s.JobActive && s.Coordinate != nil && s.HospitalCount() > 0,
		NotifyLabel:   LabelNotify,
	}
	switch {
	case s.State == LocatingUser:
		ctl.LocateLabel = LabelLocating
	case s.State == SubmittingNotification:
		ctl.NotifyLabel = LabelNotifying
	case s.JobActive:
		ctl.NotifyLabel = LabelNotifyWait
	}
	return ctl
}

func (c *Controller) status(level Level, text string) {
	c.session.Banner = Banner{Level: level, Text: text, At: time.Now().UTC()}
	c.view.ShowStatus(level, text)
}

func (c *Controller) toast(level Level, text string) {
	c.view.ShowToast(level, text)
}

// fail reports an error on the banner and as a toast.
func (c *Controller) fail(text string) {
	c.status(LevelError, text)
	c.toast(LevelError, text)
}

func (c *Controller) succeed(text string) {
	c.status(LevelSuccess, text)
	c.toast(LevelSuccess, text)
}

// dispatch posts fn to the loop and counts it as pending until it returns.
// A full loop rejects it with eventloop.ErrLoopFull for the caller to report.
func (c *Controller) dispatch(name string, fn eventloop.Func) (string, error) {
	c.pending.add()
	id, err := c.loop.Post(name, c.counted(fn))
	if err != nil {
		c.pending.done()
		return "", err
	}
	return id, nil
}

// post queues a continuation. Continuations finish a state transition and
// have no caller to report to, so post waits for room in a full loop. Only
// a loop that has shut down loses one.
func (c *Controller) post(name string, fn eventloop.Func) {
	c.pending.add()
	if _, err := c.loop.Enqueue(context.WithoutCancel(c.ctx), name, c.counted(fn)); err != nil {
		c.pending.done()
		log.Error().Err(err).Str("task", name).Msg("Failed to post continuation")
	}
}

func (c *Controller) counted(fn eventloop.Func) eventloop.Func {
	return func(ctx context.Context) error {
		defer c.pending.done()
		return fn(ctx)
	}
}

// background runs work off the loop and posts the continuation it returns.
// Must be called from a loop task so the pending count never drops to zero
// in between.
func (c *Controller) background(name string, work func(ctx context.Context) func(context.Context) error) {
	c.pending.add()
	go func() {
		defer c.pending.done()
		cont := work(c.ctx)
		c.post(name, cont)
	}()
}

// record writes to the audit trail without blocking the loop.
func (c *Controller) record(fn func(ctx context.Context, r Recorder) error) {
	if c.recorder == nil {
		return
	}
	c.pending.add()
	go func() {
		defer c.pending.done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), recordTimeout)
		defer cancel()
		if err := fn(ctx, c.recorder); err != nil {
			log.Warn().Err(err).Msg("Failed to record history")
		}
	}()
}

// inflight counts pending work and lets callers wait for it to drain.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
