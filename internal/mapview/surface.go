// Package mapview maintains the map model: the user marker, one marker per
// hospital in the current list, popups and the viewport. Drawing is delegated
// to a Surface.
package mapview

import (
	"fmt"
	"html/template"
	"sync"

	"github.com/stuartshay/hospital-locator/internal/calculator"
)

// Kind distinguishes user and hospital markers.
type Kind string

// Marker kinds
const (
	KindUser     Kind = "user"
	KindHospital Kind = "hospital"
)

// Marker is what a Surface draws.
type Marker struct {
	ID         string                `json:"id"`
	Kind       Kind                  `json:"kind"`
	Position   calculator.Coordinate `json:"position"`
	Title      string                `json:"title"`
	Popup      template.HTML         `json:"popup"`
	HospitalID int64                 `json:"hospital_id,omitempty"`
}

// Surface is the rendering target. Calls are synchronous.
type Surface interface {
	AddMarker(m Marker) error
	RemoveMarker(id string) error
	SetView(center calculator.Coordinate, zoom int) error
	FitBounds(b calculator.Bounds) error
}

// Viewport is the camera state of a MemorySurface. Bounds is set by the
// last FitBounds and cleared by SetView.
type Viewport struct {
	Center calculator.Coordinate `json:"center"`
	Zoom   int                   `json:"zoom"`
	Bounds *calculator.Bounds    `json:"bounds,omitempty"`
}

// MemorySurface keeps the drawn state in memory so it can be queried and
// rendered as a page.
type MemorySurface struct {
	mu       sync.RWMutex
	markers  map[string]Marker
	order    []string
	viewport Viewport
}

// NewMemorySurface returns an empty surface showing the initial view.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{
		markers:  make(map[string]Marker),
		viewport: Viewport{Center: InitialCenter, Zoom: InitialZoom},
	}
}

// AddMarker implements Surface.
func (s *MemorySurface) AddMarker(m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markers[m.ID]; exists {
		return fmt.Errorf("marker %s already on surface", m.ID)
	}
	s.markers[m.ID] = m
	s.order = append(s.order, m.ID)
	return nil
}

// RemoveMarker implements Surface.
func (s *MemorySurface) RemoveMarker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markers[id]; !exists {
		return fmt.Errorf("marker %s not on surface", id)
	}
	delete(s.markers, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetView implements Surface.
func (s *MemorySurface) SetView(center calculator.Coordinate, zoom int) error {
	s.mu.Lock()
	s.viewport = Viewport{Center: center, Zoom: zoom}
	s.mu.Unlock()
	return nil
}

// FitBounds implements Surface.
func (s *MemorySurface) FitBounds(b calculator.Bounds) error {
	s.mu.Lock()
	s.viewport = Viewport{Center: b.Center(), Zoom: s.viewport.Zoom, Bounds: &b}
	s.mu.Unlock()
	return nil
}

// Markers returns the drawn markers in insertion order.
func (s *MemorySurface) Markers() []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Marker, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.markers[id])
	}
	return out
}

// Count returns the number of drawn markers of the given kind.
func (s *MemorySurface) Count(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.markers {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Viewport returns the current camera state.
func (s *MemorySurface) Viewport() Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}
