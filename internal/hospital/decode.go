package hospital

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingHospitals is returned when the search payload has no hospitals key.
var ErrMissingHospitals = errors.New("payload has no hospitals field")

// Decimal decodes a JSON number or a numeric string. The backend serializes
// decimal columns as strings ("12.34").
type Decimal float64

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("decimal is null")
	}
	s := string(data)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	*d = Decimal(f)
	return nil
}

type wireStock struct {
	Units     *int `json:"units"`
	Available bool `json:"available"`
}

type wireHospital struct {
	ID                 *int64               `json:"id"`
	Name               string               `json:"name"`
	Address            string               `json:"address"`
	City               string               `json:"city"`
	State              string               `json:"state"`
	ContactPhone       string               `json:"contact_phone"`
	ContactEmail       string               `json:"contact_email"`
	EmergencyContact   string               `json:"emergency_contact"`
	Latitude           *Decimal             `json:"latitude"`
	Longitude          *Decimal             `json:"longitude"`
	Distance           *Decimal             `json:"distance"`
	BloodStock         map[string]wireStock `json:"blood_stock"`
	BloodBankAvailable *bool                `json:"blood_bank_available"`
	IsPartner          *bool                `json:"is_partner"`
}

// SearchResult is the decoded nearby-hospitals response.
type SearchResult struct {
	Hospitals      []Hospital
	TotalFound     int
	SearchRadiusKM int
	LastUpdated    string
}

// DecodeSearch parses and validates a nearby-hospitals response body.
// Any missing or malformed field rejects the whole payload.
func DecodeSearch(body []byte) (*SearchResult, error) {
	var payload struct {
		Hospitals      *[]wireHospital `json:"hospitals"`
		TotalFound     *int            `json:"total_found"`
		SearchRadiusKM int             `json:"search_radius_km"`
		LastUpdated    string          `json:"last_updated"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding hospitals payload: %w", err)
	}
	if payload.Hospitals == nil {
		return nil, ErrMissingHospitals
	}

	result := &SearchResult{
		Hospitals:      make([]Hospital, 0, len(*payload.Hospitals)),
		SearchRadiusKM: payload.SearchRadiusKM,
		LastUpdated:    payload.LastUpdated,
	}
	for i, w := range *payload.Hospitals {
		h, err := w.toHospital()
		if err != nil {
			return nil, fmt.Errorf("hospital at index %d: %w", i, err)
		}
		result.Hospitals = append(result.Hospitals, h)
	}

	result.TotalFound = len(result.Hospitals)
	if payload.TotalFound != nil && *payload.TotalFound != result.TotalFound {
		return nil, fmt.Errorf("total_found %d does not match %d hospitals", *payload.TotalFound, result.TotalFound)
	}

	return result, nil
}

func (w wireHospital) toHospital() (Hospital, error) {
	switch {
	case w.ID == nil:
		return Hospital{}, errors.New("missing id")
	case w.Latitude == nil || w.Longitude == nil:
		return Hospital{}, fmt.Errorf("hospital %d is missing coordinates", *w.ID)
	case w.Distance == nil:
		return Hospital{}, fmt.Errorf("hospital %d is missing distance", *w.ID)
	}

	h := Hospital{
		ID:                 *w.ID,
		Name:               w.Name,
		Address:            w.Address,
		City:               w.City,
		State:              w.State,
		ContactPhone:       w.ContactPhone,
		ContactEmail:       w.ContactEmail,
		EmergencyContact:   w.EmergencyContact,
		Latitude:           float64(*w.Latitude),
		Longitude:          float64(*w.Longitude),
		DistanceKM:         float64(*w.Distance),
		BloodStock:         make(map[string]StockLevel, len(w.BloodStock)),
		BloodBankAvailable: w.BloodBankAvailable == nil || *w.BloodBankAvailable,
		IsPartner:          w.IsPartner == nil || *w.IsPartner,
	}
	for t, s := range w.BloodStock {
		if s.Units == nil {
			return Hospital{}, fmt.Errorf("hospital %d is missing %s units", h.ID, t)
		}
		h.BloodStock[t] = StockLevel{Units: *s.Units, Available: s.Available}
	}

	if err := h.Validate(); err != nil {
		return Hospital{}, err
	}
	return h, nil
}

// StockSummary is the decoded blood-stock summary response.
type StockSummary struct {
	BloodStock      map[string]StockLevel
	TotalUnits      int
	BloodTypesCount int
	LastUpdated     string
}

// DecodeStockSummary parses the blood-stock summary response body.
func DecodeStockSummary(body []byte) (*StockSummary, error) {
	var payload struct {
		BloodStock      map[string]wireStock `json:"blood_stock"`
		TotalUnits      int                  `json:"total_units"`
		BloodTypesCount int                  `json:"blood_types_count"`
		LastUpdated     string               `json:"last_updated"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding stock payload: %w", err)
	}
	if payload.BloodStock == nil {
		return nil, errors.New("payload has no blood_stock field")
	}

	summary := &StockSummary{
		BloodStock:      make(map[string]StockLevel, len(payload.BloodStock)),
		TotalUnits:      payload.TotalUnits,
		BloodTypesCount: payload.BloodTypesCount,
		LastUpdated:     payload.LastUpdated,
	}
	for t, s := range payload.BloodStock {
		if s.Units == nil || *s.Units < 0 {
			return nil, fmt.Errorf("invalid %s units", t)
		}
		summary.BloodStock[t] = StockLevel{Units: *s.Units, Available: s.Available}
	}
	return summary, nil
}
