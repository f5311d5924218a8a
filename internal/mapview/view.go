package mapview

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/hospital"
)

// Viewport defaults
const (
	InitialZoom = 6
	UserZoom    = 12
	FocusZoom   = 14
	// FitPadding grows fitted bounds by 10% on every side.
	FitPadding = 0.1
)

// InitialCenter is the geographic center of India.
var InitialCenter = calculator.Coordinate{Latitude: 20.5937, Longitude: 78.9629}

// ErrReleasedHandle is returned when a released handle is used.
var ErrReleasedHandle = errors.New("marker handle already released")

// Handle refers to one live marker on the surface.
type Handle struct {
	id         string
	kind       Kind
	position   calculator.Coordinate
	hospitalID int64
	released   bool
}

// ID returns the marker id.
func (h *Handle) ID() string { return h.id }

// Kind returns the marker kind.
func (h *Handle) Kind() Kind { return h.kind }

// Position returns the marker position.
func (h *Handle) Position() calculator.Coordinate { return h.position }

// HospitalID returns the hospital the marker belongs to, or 0 for the user marker.
func (h *Handle) HospitalID() int64 { return h.hospitalID }

// View owns the markers drawn on a Surface. Every hospital in the current
// list has exactly one live marker.
type View struct {
	mu        sync.Mutex
	surface   Surface
	user      *Handle
	hospitals []*Handle
}

// New creates a view drawing on surface.
func New(surface Surface) *View {
	return &View{surface: surface}
}

// SetUserMarker replaces the user marker and centers the map on it.
func (v *View) SetUserMarker(c calculator.Coordinate) (*Handle, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid user coordinate %s", c)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.user != nil {
		if err := v.releaseLocked(v.user); err != nil {
			return nil, err
		}
		v.user = nil
	}

	h := &Handle{id: uuid.New().String(), kind: KindUser, position: c}
	if err := v.surface.AddMarker(Marker{
		ID:       h.id,
		Kind:     KindUser,
		Position: c,
		Title:    UserPopup,
		Popup:    userPopupHTML,
	}); err != nil {
		return nil, fmt.Errorf("adding user marker: %w", err)
	}
	v.user = h

	if err := v.surface.SetView(c, UserZoom); err != nil {
		return h, fmt.Errorf("centering on user: %w", err)
	}
	return h, nil
}

// SetHospitalMarkers releases every prior hospital marker, then adds one
// marker per hospital. On failure no hospital markers remain.
func (v *View) SetHospitalMarkers(hospitals []hospital.Hospital) ([]*Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.clearHospitalsLocked(); err != nil {
		return nil, err
	}

	handles := make([]*Handle, 0, len(hospitals))
	for _, hosp := range hospitals {
		popup, err := HospitalPopup(hosp)
		if err != nil {
			v.hospitals = handles
			return nil, errors.Join(err, v.clearHospitalsLocked())
		}

		h := &Handle{
			id:         uuid.New().String(),
			kind:       KindHospital,
			position:   hosp.Coordinate(),
			hospitalID: hosp.ID,
		}
		if err := v.surface.AddMarker(Marker{
			ID:         h.id,
			Kind:       KindHospital,
			Position:   h.position,
			Title:      hosp.Name,
			Popup:      popup,
			HospitalID: hosp.ID,
		}); err != nil {
			v.hospitals = handles
			err = fmt.Errorf("adding marker for hospital %d: %w", hosp.ID, err)
			return nil, errors.Join(err, v.clearHospitalsLocked())
		}
		handles = append(handles, h)
	}
	v.hospitals = handles

	log.Debug().Int("markers", len(handles)).Msg("Hospital markers replaced")

	out := make([]*Handle, len(handles))
	copy(out, handles)
	return out, nil
}

// FitToMarkers fits the viewport to the given markers padded by 10%.
// With no handles it does nothing.
func (v *View) FitToMarkers(handles ...*Handle) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	points := make([]calculator.Coordinate, 0, len(handles))
	for _, h := range handles {
		if h == nil || h.released {
			return ErrReleasedHandle
		}
		points = append(points, h.position)
	}

	bounds, ok := calculator.BoundsOf(points)
	if !ok {
		return nil
	}
	return v.surface.FitBounds(bounds.Pad(FitPadding))
}

// CenterOn moves the viewport.
func (v *View) CenterOn(c calculator.Coordinate, zoom int) error {
	if !c.Valid() {
		return fmt.Errorf("invalid coordinate %s", c)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.surface.SetView(c, zoom)
}

// Release removes the marker from the surface. The handle is unusable afterwards.
func (v *View) Release(h *Handle) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.releaseLocked(h); err != nil {
		return err
	}
	if v.user == h {
		v.user = nil
	}
	for i, hh := range v.hospitals {
		if hh == h {
			v.hospitals = append(v.hospitals[:i], v.hospitals[i+1:]...)
			break
		}
	}
	return nil
}

// Reset removes every marker and returns to the initial view.
func (v *View) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var errs []error
	if err := v.clearHospitalsLocked(); err != nil {
		errs = append(errs, err)
	}
	if v.user != nil {
		if err := v.releaseLocked(v.user); err != nil {
			errs = append(errs, err)
		}
		v.user = nil
	}
	if err := v.surface.SetView(InitialCenter, InitialZoom); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// UserHandle returns the live user marker, or nil.
func (v *View) UserHandle() *Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.user
}

// HospitalHandles returns the live hospital markers in list order.
func (v *View) HospitalHandles() []*Handle {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]*Handle, len(v.hospitals))
	copy(out, v.hospitals)
	return out
}

func (v *View) clearHospitalsLocked() error {
	var errs []error
	for _, h := range v.hospitals {
		if err := v.releaseLocked(h); err != nil {
			errs = append(errs, err)
		}
	}
	v.hospitals = nil
	return errors.Join(errs...)
}

func (v *View) releaseLocked(h *Handle) error {
	if h == nil || h.released {
		return ErrReleasedHandle
	}
	// Marked first so a failing surface never leaves a reusable handle.
	h.released = true
	if err := v.surface.RemoveMarker(h.id); err != nil {
		return fmt.Errorf("removing marker %s: %w", h.id, err)
	}
	return nil
}
