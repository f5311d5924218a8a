package ui

import (
	"fmt"
	"html/template"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/directory"
)

// ToastTTL is how long a toast stays visible.
const ToastTTL = 5 * time.Second

// View presents controller output. The controller calls it only from the
// event loop, one call at a time.
type View interface {
	ShowStatus(level Level, text string)
	ShowToast(level Level, text string)
	RenderHospitals(snap *directory.Snapshot, metrics calculator.DistanceMetrics)
	SetControls(c Controls)
}

// ConsoleView writes the workflow to a terminal.
type ConsoleView struct {
	mu sync.Mutex
	w  io.Writer
	p  *message.Printer
}

// NewConsoleView creates a console view formatting numbers for tag.
func NewConsoleView(w io.Writer, tag language.Tag) *ConsoleView {
	return &ConsoleView{w: w, p: message.NewPrinter(tag)}
}

var levelMarks = map[Level]string{
	LevelInfo:    "ℹ",
	LevelSuccess: "✔",
	LevelWarning: "!",
	LevelError:   "✖",
}

// ShowStatus implements View.
func (v *ConsoleView) ShowStatus(level Level, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = fmt.Fprintf(v.w, "%s %s\n", levelMarks[level], text)
}

// ShowToast implements View. Toasts are only printed when they carry
// something the status line does not.
func (v *ConsoleView) ShowToast(level Level, text string) {
	if level == LevelInfo {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = fmt.Fprintf(v.w, "  [%s] %s\n", level, text)
}

// RenderHospitals implements View.
func (v *ConsoleView) RenderHospitals(snap *directory.Snapshot, metrics calculator.DistanceMetrics) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snap == nil || len(snap.Hospitals) == 0 {
		_, _ = fmt.Fprintf(v.w, "\n%s\n%s\n\n", EmptyTitle, EmptyMessage)
		return
	}

	_, _ = v.p.Fprintf(v.w, "\n%d partner hospitals within %d km (nearest %.1f km, average %.1f km)\n\n",
		len(snap.Hospitals), snap.RadiusKM, metrics.NearestKM, metrics.AvgDistanceKM)
	for i, h := range snap.Hospitals {
		_, _ = v.p.Fprintf(v.w, "%2d. %s  [%.1f km]\n", i+1, h.Name, h.DistanceKM)
		if addr := h.FullAddress(); addr != "" {
			_, _ = fmt.Fprintf(v.w, "    %s\n", addr)
		}
		var contacts []string
		if h.ContactPhone != "" {
			contacts = append(contacts, "Phone: "+h.ContactPhone)
		}
		if h.EmergencyContact != "" {
			contacts = append(contacts, "Emergency: "+h.EmergencyContact)
		}
		if h.ContactEmail != "" {
			contacts = append(contacts, h.ContactEmail)
		}
		if len(contacts) > 0 {
			_, _ = fmt.Fprintf(v.w, "    %s\n", strings.Join(contacts, " · "))
		}
		_, _ = fmt.Fprintf(v.w, "    Stock: %s\n", h.StockSummary())
	}
	_, _ = fmt.Fprintln(v.w)
}

// SetControls implements View. A terminal has no controls to toggle.
func (v *ConsoleView) SetControls(c Controls) {
	log.Debug().
		Bool("locate", c.LocateEnabled).
		Bool("notify", c.NotifyEnabled).
		Msg("Controls updated")
}

// Toast is a transient message.
type Toast struct {
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ViewState is what a SnapshotView currently shows.
type ViewState struct {
	Banner   Banner                     `json:"banner"`
	Toasts   []Toast                    `json:"toasts"`
	Controls Controls                   `json:"controls"`
	Metrics  calculator.DistanceMetrics `json:"metrics"`
	Panel    template.HTML              `json:"panel"`
}

// SnapshotView keeps the latest presentation in memory for a web page or
// API to read.
type SnapshotView struct {
	mu    sync.RWMutex
	now   func() time.Time
	state ViewState
	// selected is the hospital highlighted in the next panel render.
	selected int64
}

// NewSnapshotView creates an empty snapshot view.
func NewSnapshotView() *SnapshotView {
	v := &SnapshotView{now: time.Now}
	v.state.Panel, _ = RenderPanel(nil, calculator.DistanceMetrics{}, 0)
	return v
}

// ShowStatus implements View.
func (v *SnapshotView) ShowStatus(level Level, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Banner = Banner{Level: level, Text: text, At: v.now()}
}

// ShowToast implements View.
func (v *SnapshotView) ShowToast(level Level, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	v.state.Toasts = append(liveToasts(v.state.Toasts, now), Toast{Level: level, Text: text, ExpiresAt: now.Add(ToastTTL)})
}

// RenderHospitals implements View.
func (v *SnapshotView) RenderHospitals(snap *directory.Snapshot, metrics calculator.DistanceMetrics) {
	v.mu.Lock()
	defer v.mu.Unlock()

	panel, err := RenderPanel(snap, metrics, v.selected)
	if err != nil {
		log.Error().Err(err).Msg("Failed to render hospital panel")
		return
	}
	v.state.Panel = panel
	v.state.Metrics = metrics
}

// Select highlights a hospital in subsequent renders.
func (v *SnapshotView) Select(id int64) {
	v.mu.Lock()
	v.selected = id
	v.mu.Unlock()
}

// SetControls implements View.
func (v *SnapshotView) SetControls(c Controls) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Controls = c
}

// State returns the current presentation with expired toasts removed.
func (v *SnapshotView) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := v.state
	s.Toasts = liveToasts(slices.Clone(v.state.Toasts), v.now())
	if s.Toasts == nil {
		s.Toasts = []Toast{}
	}
	return s
}

func liveToasts(toasts []Toast, now time.Time) []Toast {
	return slices.DeleteFunc(toasts, func(t Toast) bool { return !now.Before(t.ExpiresAt) })
}
