package mapview

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/stuartshay/hospital-locator/internal/calculator"
)

// Style is a base tile layer.
type Style struct {
	Name        string `json:"name"`
	TileURL     string `json:"tile_url"`
	Attribution string `json:"attribution"`
}

// Styles are the base layers the map cycles through.
var Styles = []Style{
	{
		Name:        "streets",
		TileURL:     "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "&copy; OpenStreetMap contributors",
	},
	{
		Name:        "light",
		TileURL:     "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
		Attribution: "&copy; OpenStreetMap contributors &copy; CARTO",
	},
	{
		Name:        "dark",
		TileURL:     "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}{r}.png",
		Attribution: "&copy; OpenStreetMap contributors &copy; CARTO",
	},
	{
		Name:        "satellite",
		TileURL:     "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
		Attribution: "Tiles &copy; Esri",
	},
}

// StyleAt returns the style for an index, wrapping around.
func StyleAt(i int) Style {
	n := len(Styles)
	return Styles[((i%n)+n)%n]
}

// PageData is everything the map page shows.
type PageData struct {
	Title    string
	Style    Style
	Viewport Viewport
	Markers  []Marker
	// Panel is pre-rendered list panel markup shown beside the map.
	Panel       template.HTML
	GeneratedAt time.Time
}

// PageDataFrom snapshots a MemorySurface.
func PageDataFrom(s *MemorySurface, style Style) PageData {
	return PageData{
		Title:       "Nearby Partner Hospitals",
		Style:       style,
		Viewport:    s.Viewport(),
		Markers:     s.Markers(),
		GeneratedAt: time.Now().UTC(),
	}
}

type pageMarker struct {
	Kind  Kind    `json:"kind"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Title string  `json:"title"`
	Popup string  `json:"popup"`
}

type pageView struct {
	Lat    float64            `json:"lat"`
	Lng    float64            `json:"lng"`
	Zoom   int                `json:"zoom"`
	Bounds *calculator.Bounds `json:"bounds,omitempty"`
}

// RenderPage writes a standalone Leaflet page for data.
func RenderPage(w io.Writer, data PageData) error {
	markers := make([]pageMarker, 0, len(data.Markers))
	for _, m := range data.Markers {
		markers = append(markers, pageMarker{
			Kind:  m.Kind,
			Lat:   m.Position.Latitude,
			Lng:   m.Position.Longitude,
			Title: m.Title,
			Popup: string(m.Popup),
		})
	}
	markersJSON, err := toJSON(markers)
	if err != nil {
		return fmt.Errorf("failed to marshal markers: %w", err)
	}

	view := pageView{
		Lat:    data.Viewport.Center.Latitude,
		Lng:    data.Viewport.Center.Longitude,
		Zoom:   data.Viewport.Zoom,
		Bounds: data.Viewport.Bounds,
	}
	if view.Zoom == 0 {
		view.Lat, view.Lng, view.Zoom = InitialCenter.Latitude, InitialCenter.Longitude, InitialZoom
	}
	viewJSON, err := toJSON(view)
	if err != nil {
		return fmt.Errorf("failed to marshal viewport: %w", err)
	}
	styleJSON, err := toJSON(data.Style)
	if err != nil {
		return fmt.Errorf("failed to marshal style: %w", err)
	}

	return pageTmpl.Execute(w, struct {
		Title       string
		Panel       template.HTML
		GeneratedAt string
		MarkerCount int
		MarkersJSON template.JS
		ViewJSON    template.JS
		StyleJSON   template.JS
	}{
		Title:       data.Title,
		Panel:       data.Panel,
		GeneratedAt: data.GeneratedAt.Format("Jan 2, 2006 at 15:04 UTC"),
		MarkerCount: len(markers),
		MarkersJSON: markersJSON,
		ViewJSON:    viewJSON,
		StyleJSON:   styleJSON,
	})
}

// toJSON marshals v for embedding in a script block. encoding/json escapes
// <, > and & so the output cannot close the script element.
func toJSON(v any) (template.JS, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return template.JS(b), nil
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css" />
  <script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
  <style>
    body { margin: 0; font-family: system-ui, sans-serif; display: flex; height: 100vh; }
    #map { flex: 2; }
    #panel { flex: 1; overflow-y: auto; padding: 1rem; background: #f9fafb; }
    .user-marker { background: #3b82f6; width: 20px; height: 20px; border-radius: 50%; border: 3px solid white; box-shadow: 0 2px 10px rgba(0,0,0,0.3); }
    .hospital-marker { background: #dc2626; width: 24px; height: 24px; border-radius: 50%; border: 2px solid white; box-shadow: 0 2px 10px rgba(0,0,0,0.3); }
    .hospital-popup h6 { margin: 0 0 10px 0; color: #dc2626; }
    .hospital-popup p { margin: 5px 0; font-size: 12px; }
    .call-emergency { display: inline-block; background: #dc2626; color: white; padding: 5px 10px; border-radius: 5px; margin-top: 5px; text-decoration: none; }
    footer { font-size: 11px; color: #6b7280; margin-top: 1rem; }
  </style>
</head>
<body>
  <div id="map"></div>
  <div id="panel">
    {{.Panel}}
    <footer>{{.MarkerCount}} markers &middot; generated {{.GeneratedAt}}</footer>
  </div>
  <script>
    const markers = {{.MarkersJSON}};
    const view = {{.ViewJSON}};
    const style = {{.StyleJSON}};

    const map = L.map('map').setView([view.lat, view.lng], view.zoom);
    L.tileLayer(style.tile_url, { attribution: style.attribution, maxZoom: 19 }).addTo(map);

    markers.forEach(m => {
      const icon = L.divIcon({
        className: '',
        html: '<div class="' + (m.kind === 'user' ? 'user-marker' : 'hospital-marker') + '"></div>',
        iconSize: m.kind === 'user' ? [26, 26] : [28, 28],
      });
      L.marker([m.lat, m.lng], { icon: icon, title: m.title }).addTo(map).bindPopup(m.popup);
    });

    if (view.bounds) {
      map.fitBounds([[view.bounds.south, view.bounds.west], [view.bounds.north, view.bounds.east]]);
    }
  </script>
</body>
</html>
`))
