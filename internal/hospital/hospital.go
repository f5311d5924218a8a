// Package hospital defines the partner hospital snapshot returned by the
// nearby-hospitals endpoint and validates it at the decoding boundary.
package hospital

import (
	"fmt"
	"slices"
	"strings"

	"github.com/stuartshay/hospital-locator/internal/calculator"
)

// Stock status values, matching the backend's blood stock summary
const (
	StockAvailable   = "available"
	StockLow         = "low"
	StockUnavailable = "unavailable"
)

// bloodTypeOrder is the display order for blood groups.
var bloodTypeOrder = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// StockLevel is the stock of one blood type at a hospital.
type StockLevel struct {
	Units     int  `json:"units"`
	Available bool `json:"available"`
}

// Status classifies the level: more than 10 units is available,
// any units is low, none is unavailable.
func (s StockLevel) Status() string {
	switch {
	case s.Units > 10:
		return StockAvailable
	case s.Units > 0:
		return StockLow
	default:
		return StockUnavailable
	}
}

// Hospital is a read-only partner hospital record.
type Hospital struct {
	ID                 int64                 `json:"id"`
	Name               string                `json:"name"`
	Address            string                `json:"address"`
	City               string                `json:"city"`
	State              string                `json:"state"`
	ContactPhone       string                `json:"contact_phone"`
	ContactEmail       string                `json:"contact_email"`
	EmergencyContact   string                `json:"emergency_contact"`
	Latitude           float64               `json:"latitude"`
	Longitude          float64               `json:"longitude"`
	DistanceKM         float64               `json:"distance"`
	BloodStock         map[string]StockLevel `json:"blood_stock"`
	BloodBankAvailable bool                  `json:"blood_bank_available"`
	IsPartner          bool                  `json:"is_partner"`
}

// Coordinate returns the hospital position.
func (h Hospital) Coordinate() calculator.Coordinate {
	return calculator.Coordinate{Latitude: h.Latitude, Longitude: h.Longitude}
}

// FullAddress joins address, city and state, skipping empty parts.
func (h Hospital) FullAddress() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{h.Address, h.City, h.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// BloodTypes returns the stocked blood types in display order.
func (h Hospital) BloodTypes() []string {
	types := make([]string, 0, len(h.BloodStock))
	for t := range h.BloodStock {
		types = append(types, t)
	}
	slices.SortFunc(types, func(a, b string) int {
		ia, ib := slices.Index(bloodTypeOrder, a), slices.Index(bloodTypeOrder, b)
		switch {
		case ia >= 0 && ib >= 0:
			return ia - ib
		case ia >= 0:
			return -1
		case ib >= 0:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
	return types
}

// StockSummary lists the available blood types as "A+: 50, O-: 25",
// or "No stock available".
func (h Hospital) StockSummary() string {
	var parts []string
	for _, t := range h.BloodTypes() {
		level := h.BloodStock[t]
		if level.Available {
			parts = append(parts, fmt.Sprintf("%s: %d", t, level.Units))
		}
	}
	if len(parts) == 0 {
		return "No stock available"
	}
	return strings.Join(parts, ", ")
}

// Validate checks the fields every consumer relies on.
func (h Hospital) Validate() error {
	if h.ID <= 0 {
		return fmt.Errorf("hospital id %d is not positive", h.ID)
	}
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("hospital %d has no name", h.ID)
	}
	if !h.Coordinate().Valid() {
		return fmt.Errorf("hospital %d has invalid coordinates %s", h.ID, h.Coordinate())
	}
	if h.DistanceKM < 0 {
		return fmt.Errorf("hospital %d has negative distance %.2f", h.ID, h.DistanceKM)
	}
	for t, level := range h.BloodStock {
		if level.Units < 0 {
			return fmt.Errorf("hospital %d has negative %s stock", h.ID, t)
		}
	}
	return nil
}
