package ui

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/directory"
	"github.com/stuartshay/hospital-locator/internal/hospital"
	"github.com/stuartshay/hospital-locator/internal/mapview"
)

// Empty state copy
const (
	EmptyTitle   = "No Hospitals Found"
	EmptyMessage = "No partner hospitals found within the selected radius. Try increasing the search radius."
)

var panelTmpl = template.Must(template.New("panel").Parse(`<div class="hospitals-list">
{{- if not .Cards}}
<div class="empty-state">
  <h4>{{.EmptyTitle}}</h4>
  <p>{{.EmptyMessage}}</p>
</div>
{{- else}}
<p class="summary">{{len .Cards}} partner hospitals within {{.RadiusKM}} km{{if .Metrics.TotalLocations}}, nearest {{printf "%.1f" .Metrics.NearestKM}} km{{end}}</p>
{{- range .Cards}}
<div class="hospital-card{{if .Selected}} selected{{end}}" data-hospital-id="{{.ID}}">
  <div class="hospital-header">
    <div class="hospital-name">{{.Name}}</div>
    <div class="distance-badge">{{printf "%.1f" .DistanceKM}} km</div>
  </div>
  <div class="hospital-details">
    {{- if .Address}}
    <div class="contact-info">{{.Address}}</div>
    {{- end}}
    {{- if .Phone}}
    <div class="contact-info"><a href="{{.PhoneURL}}">{{.Phone}}</a></div>
    {{- end}}
    {{- if .Email}}
    <div class="contact-info"><a href="mailto:{{.Email}}">{{.Email}}</a></div>
    {{- end}}
    {{- if .Emergency}}
    <div class="emergency-contact"><strong>Emergency:</strong> <a href="{{.EmergencyURL}}">{{.Emergency}}</a></div>
    {{- end}}
    <div class="blood-stock-summary">
      <h6>Blood Stock:</h6>
      <div class="stock-badges">
      {{- range .Stock}}
        <span class="stock-badge {{.Class}}">{{.Type}}: {{.Units}}</span>
      {{- else}}
        <span class="stock-badge unavailable">No stock available</span>
      {{- end}}
      </div>
    </div>
  </div>
</div>
{{- end}}
{{- end}}
</div>`))

type stockBadge struct {
	Type  string
	Units int
	Class string
}

type card struct {
	ID           int64
	Name         string
	DistanceKM   float64
	Address      string
	Phone        string
	PhoneURL     template.URL
	Email        string
	Emergency    string
	EmergencyURL template.URL
	Stock        []stockBadge
	Selected     bool
}

// RenderPanel renders the hospital list panel. A nil snapshot renders the
// empty state.
func RenderPanel(snap *directory.Snapshot, metrics calculator.DistanceMetrics, selectedID int64) (template.HTML, error) {
	data := struct {
		Cards        []card
		RadiusKM     int
		Metrics      calculator.DistanceMetrics
		EmptyTitle   string
		EmptyMessage string
	}{
		Metrics:      metrics,
		EmptyTitle:   EmptyTitle,
		EmptyMessage: EmptyMessage,
	}

	if snap != nil {
		data.RadiusKM = snap.RadiusKM
		for _, h := range snap.Hospitals {
			data.Cards = append(data.Cards, newCard(h, h.ID == selectedID))
		}
	}

	var buf bytes.Buffer
	if err := panelTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering hospital panel: %w", err)
	}
	return template.HTML(buf.String()), nil
}

func newCard(h hospital.Hospital, selected bool) card {
	c := card{
		ID:           h.ID,
		Name:         h.Name,
		DistanceKM:   h.DistanceKM,
		Address:      h.FullAddress(),
		Phone:        h.ContactPhone,
		PhoneURL:     mapview.TelURL(h.ContactPhone),
		Email:        h.ContactEmail,
		Emergency:    h.EmergencyContact,
		EmergencyURL: mapview.TelURL(h.EmergencyContact),
		Selected:     selected,
	}
	for _, t := range h.BloodTypes() {
		level := h.BloodStock[t]
		class := level.Status()
		if !level.Available {
			class = hospital.StockUnavailable
		}
		c.Stock = append(c.Stock, stockBadge{Type: t, Units: level.Units, Class: class})
	}
	return c
}
