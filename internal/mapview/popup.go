package mapview

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/stuartshay/hospital-locator/internal/hospital"
)

// UserPopup labels the user marker.
const UserPopup = "📍 Your Location"

var userPopupHTML = template.HTML("<strong>" + template.HTMLEscapeString(UserPopup) + "</strong>")

var popupTmpl = template.Must(template.New("popup").Parse(`<div class="hospital-popup">
<h6>{{.Name}}</h6>
{{- if .Address}}
<p><strong>Address:</strong> {{.Address}}</p>
{{- end}}
<p><strong>Distance:</strong> {{printf "%.1f" .DistanceKM}} km</p>
{{- if .Phone}}
<p><strong>Phone:</strong> {{.Phone}}</p>
{{- end}}
{{- if .Emergency}}
<p><strong>Emergency:</strong> {{.Emergency}}</p>
{{- end}}
<p><strong>Stock:</strong> {{.Stock}}</p>
{{- if .CallURL}}
<a class="call-emergency" href="{{.CallURL}}">Call Emergency</a>
{{- end}}
</div>`))

type popupData struct {
	Name       string
	Address    string
	DistanceKM float64
	Phone      string
	Emergency  string
	Stock      string
	CallURL    template.URL
}

// HospitalPopup renders the popup for a hospital marker.
func HospitalPopup(h hospital.Hospital) (template.HTML, error) {
	emergency := h.EmergencyContact
	if emergency == "" {
		emergency = h.ContactPhone
	}

	var buf bytes.Buffer
	err := popupTmpl.Execute(&buf, popupData{
		Name:       h.Name,
		Address:    h.FullAddress(),
		DistanceKM: h.DistanceKM,
		Phone:      h.ContactPhone,
		Emergency:  h.EmergencyContact,
		Stock:      h.StockSummary(),
		CallURL:    TelURL(emergency),
	})
	if err != nil {
		return "", fmt.Errorf("rendering popup for hospital %d: %w", h.ID, err)
	}
	return template.HTML(buf.String()), nil
}

// TelURL returns a tel: link for a phone number, keeping only digits and a
// leading plus. It returns "" when no digits remain.
func TelURL(phone string) template.URL {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if digits == "" {
		return ""
	}
	// Only digits and '+' reach the URL.
	return template.URL("tel:" + b.String())
}
