// Package ui drives the locate, search and notify workflow. The Controller
// owns the session state and mutates it only from event-loop tasks; slow
// work runs in background goroutines that post their results back.
package ui

import (
	"time"

	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/directory"
	"github.com/stuartshay/hospital-locator/internal/notify"
)

// State is the controller's workflow state.
type State int

// Workflow states
const (
	Idle State = iota
	LocatingUser
	SearchingHospitals
	HospitalsReady
	SubmittingNotification
	PollingNotification
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LocatingUser:
		return "locating_user"
	case SearchingHospitals:
		return "searching_hospitals"
	case HospitalsReady:
		return "hospitals_ready"
	case SubmittingNotification:
		return "submitting_notification"
	case PollingNotification:
		return "polling_notification"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Busy reports states in which new locate, search or notify actions are ignored.
func (s State) Busy() bool {
	return s == LocatingUser || s == SearchingHospitals || s == SubmittingNotification
}

// Level is the severity of a status banner or toast.
type Level string

// Message levels
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Banner is the single status line.
type Banner struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Controls is the enabled state of the user controls.
type Controls struct {
	LocateEnabled bool   `json:"locate_enabled"`
	LocateLabel   string `json:"locate_label"`
	RadiusEnabled bool   `json:"radius_enabled"`
	NotifyEnabled bool   `json:"notify_enabled"`
	NotifyLabel   string `json:"notify_label"`
}

// Control labels
const (
	LabelLocate     = "Get My Location"
	LabelLocating   = "Getting location..."
	LabelNotify     = "Send SMS & Email Notifications"
	LabelNotifying  = "Sending notifications..."
	LabelNotifyWait = "Waiting for delivery status..."
)

// Session is the per-user state. It is only read or written on the
// event loop; callers get copies from Controller.Session.
type Session struct {
	State      State                  `json:"state"`
	Coordinate *calculator.Coordinate `json:"coordinate,omitempty"`
	RadiusKM   int                    `json:"radius_km"`
	Snapshot   *directory.Snapshot    `json:"-"`
	// SelectedHospitalID is 0 when no hospital is selected.
	SelectedHospitalID int64       `json:"selected_hospital_id,omitempty"`
	MapStyle           int         `json:"map_style"`
	Job                *notify.Job `json:"job,omitempty"`
	// JobActive is set while Job is still being polled.
	JobActive bool     `json:"job_active"`
	Banner    Banner   `json:"banner"`
	Controls  Controls `json:"controls"`
}

// HospitalCount returns the size of the current list.
func (s Session) HospitalCount() int {
	if s.Snapshot == nil {
		return 0
	}
	return len(s.Snapshot.Hospitals)
}
