package mapview

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/hospital"
)

var user = calculator.Coordinate{Latitude: 19.0760, Longitude: 72.8777}

func testHospitals(ids ...int64) []hospital.Hospital {
	out := make([]hospital.Hospital, 0, len(ids))
	for i, id := range ids {
		out = append(out, hospital.Hospital{
			ID:               id,
			Name:             "Hospital " + string(rune('A'+i)),
			City:             "Mumbai",
			ContactPhone:     "+91-22-2675 1000",
			EmergencyContact: "+91-22-2656 8000",
			Latitude:         19.0 + float64(i)*0.01,
			Longitude:        72.8 + float64(i)*0.01,
			DistanceKM:       float64(i) + 1.3,
			BloodStock: map[string]hospital.StockLevel{
				"O-": {Units: 25, Available: true},
				"A+": {Units: 50, Available: true},
			},
		})
	}
	return out
}

func TestSetUserMarker(t *testing.T) {
	surface := NewMemorySurface()
	v := New(surface)

	first, err := v.SetUserMarker(user)
	require.NoError(t, err)
	assert.Equal(t, Viewport{Center: user, Zoom: UserZoom}, surface.Viewport())

	moved := calculator.Coordinate{Latitude: 19.1, Longitude: 72.9}
	second, err := v.SetUserMarker(moved)
	require.NoError(t, err)

	assert.Equal(t, 1, surface.Count(KindUser), "exactly one user marker")
	assert.NotEqual(t, first.ID(), second.ID())
	assert.ErrorIs(t, v.Release(first), ErrReleasedHandle)
	assert.Same(t, second, v.UserHandle())

	markers := surface.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, UserPopup, markers[0].Title)
	assert.Contains(t, string(markers[0].Popup), "Your Location")
}

func TestSetUserMarker_InvalidCoordinate(t *testing.T) {
	surface := NewMemorySurface()
	_, err := New(surface).SetUserMarker(calculator.Coordinate{Latitude: 95})
	require.Error(t, err)
	assert.Zero(t, surface.Count(KindUser))
}

func TestSetHospitalMarkers_ReplacesAll(t *testing.T) {
	surface := NewMemorySurface()
	v := New(surface)

	first, err := v.SetHospitalMarkers(testHospitals(1, 2, 3))
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 3, surface.Count(KindHospital))

	second, err := v.SetHospitalMarkers(testHospitals(4))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 1, surface.Count(KindHospital), "no markers left over from the previous list")
	assert.Equal(t, int64(4), second[0].HospitalID())

	for _, h := range first {
		assert.ErrorIs(t, v.Release(h), ErrReleasedHandle)
	}
}

func TestSetHospitalMarkers_EmptyListClearsMarkers(t *testing.T) {
	surface := NewMemorySurface()
	v := New(surface)

	_, err := v.SetUserMarker(user)
	require.NoError(t, err)
	_, err = v.SetHospitalMarkers(testHospitals(1, 2))
	require.NoError(t, err)

	handles, err := v.SetHospitalMarkers(nil)
	require.NoError(t, err)
	assert.Empty(t, handles)
	assert.Zero(t, surface.Count(KindHospital))
	assert.Equal(t, 1, surface.Count(KindUser), "user marker is untouched")
}

func TestFitToMarkers(t *testing.T) {
	surface := NewMemorySurface()
	v := New(surface)

	u, err := v.SetUserMarker(calculator.Coordinate{Latitude: 19.0, Longitude: 72.8})
	require.NoError(t, err)
	hs, err := v.SetHospitalMarkers([]hospital.Hospital{{
		ID: 1, Name: "North", Latitude: 19.2, Longitude: 73.0,
	}})
	require.NoError(t, err)

	require.NoError(t, v.FitToMarkers(append([]*Handle{u}, hs...)...))

	vp := surface.Viewport()
	require.NotNil(t, vp.Bounds)
	assert.InDelta(t, 18.98, vp.Bounds.South, 1e-9)
	assert.InDelta(t, 19.22, vp.Bounds.North, 1e-9)
	assert.InDelta(t, 72.78, vp.Bounds.West, 1e-9)
	assert.InDelta(t, 73.02, vp.Bounds.East, 1e-9)
}

func TestFitToMarkers_NoHandles(t *testing.T) {
	surface := NewMemorySurface()
	require.NoError(t, New(surface).FitToMarkers())
	assert.Nil(t, surface.Viewport().Bounds)
}

func TestFitToMarkers_ReleasedHandle(t *testing.T) {
	v := New(NewMemorySurface())
	h, err := v.SetUserMarker(user)
	require.NoError(t, err)
	require.NoError(t, v.Release(h))

	assert.ErrorIs(t, v.FitToMarkers(h), ErrReleasedHandle)
	assert.Nil(t, v.UserHandle())
}

func TestReset(t *testing.T) {
	surface := NewMemorySurface()
	v := New(surface)

	_, err := v.SetUserMarker(user)
	require.NoError(t, err)
	_, err = v.SetHospitalMarkers(testHospitals(1, 2))
	require.NoError(t, err)

	require.NoError(t, v.Reset())
	assert.Empty(t, surface.Markers())
	assert.Empty(t, v.HospitalHandles())
	assert.Equal(t, Viewport{Center: InitialCenter, Zoom: InitialZoom}, surface.Viewport())
}

// failingSurface rejects every AddMarker after the first n.
type failingSurface struct {
	*MemorySurface
	n int
}

func (f *failingSurface) AddMarker(m Marker) error {
	if f.n == 0 {
		return errors.New("surface full")
	}
	f.n--
	return f.MemorySurface.AddMarker(m)
}

func TestSetHospitalMarkers_FailureLeavesNoMarkers(t *testing.T) {
	surface := &failingSurface{MemorySurface: NewMemorySurface(), n: 2}
	v := New(surface)

	_, err := v.SetHospitalMarkers(testHospitals(1, 2, 3))
	require.Error(t, err)
	assert.Zero(t, surface.Count(KindHospital))
	assert.Empty(t, v.HospitalHandles())
}

// stuckSurface also fails to remove markers.
type stuckSurface struct {
	*failingSurface
}

var errRemove = errors.New("marker locked")

func (s *stuckSurface) RemoveMarker(string) error { return errRemove }

func TestSetHospitalMarkers_FailureReportsCleanupError(t *testing.T) {
	surface := &stuckSurface{&failingSurface{MemorySurface: NewMemorySurface(), n: 1}}
	v := New(surface)

	_, err := v.SetHospitalMarkers(testHospitals(1, 2))
	require.Error(t, err)
	assert.ErrorContains(t, err, "adding marker for hospital 2")
	assert.ErrorIs(t, err, errRemove, "cleanup failure is not swallowed")
	assert.Empty(t, v.HospitalHandles())
}

func TestHospitalPopup(t *testing.T) {
	h := testHospitals(7)[0]
	h.Name = "St. <Mary's>"

	popup, err := HospitalPopup(h)
	require.NoError(t, err)

	s := string(popup)
	assert.Contains(t, s, "St. &lt;Mary&#39;s&gt;")
	assert.Contains(t, s, "1.3 km")
	assert.Contains(t, s, "A+: 50, O-: 25")
	assert.Contains(t, s, `href="tel:&#43;912226568000"`)
	assert.Contains(t, s, "Call Emergency")
}

func TestHospitalPopup_NoStock(t *testing.T) {
	popup, err := HospitalPopup(hospital.Hospital{ID: 1, Name: "Empty"})
	require.NoError(t, err)
	assert.Contains(t, string(popup), "No stock available")
	assert.NotContains(t, string(popup), "Call Emergency")
}

func TestTelURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+91-22-2656 8000", "tel:+912226568000"},
		{"022 2656", "tel:0222656"},
		{"javascript:alert(1)", "tel:1"},
		{"n/a", ""},
		{"+", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, string(TelURL(tt.in)))
		})
	}
}

func TestStyleAt(t *testing.T) {
	assert.Equal(t, "streets", StyleAt(0).Name)
	assert.Equal(t, "streets", StyleAt(len(Styles)).Name)
	assert.Equal(t, "satellite", StyleAt(-1).Name)
}

func TestRenderPage(t *testing.T) {
	surface := NewMemorySurface()
	v := New(surface)
	_, err := v.SetUserMarker(user)
	require.NoError(t, err)
	_, err = v.SetHospitalMarkers(testHospitals(1))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderPage(&buf, PageDataFrom(surface, StyleAt(2))))

	page := buf.String()
	assert.Contains(t, page, "leaflet@1.9.4")
	assert.Contains(t, page, "dark_all")
	assert.Contains(t, page, "2 markers")
	assert.NotContains(t, page, `<div class="hospital-popup">`, "popup markup is JSON-escaped inside the script")
}

func TestRenderPage_InitialView(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPage(&buf, PageData{Title: "Empty", Style: StyleAt(0)}))
	assert.Contains(t, buf.String(), `"lat":20.5937,"lng":78.9629,"zoom":6`)
}
