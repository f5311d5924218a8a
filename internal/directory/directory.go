// Package directory queries the backend for partner hospitals near a
// coordinate and holds the latest result as an immutable snapshot.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stuartshay/hospital-locator/internal/backend"
	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/hospital"
)

// API paths
const (
	NearbyHospitalsPath = "/api/nearby-hospitals/"
	BloodStockPath      = "/api/blood-stock/"
)

var tracer = otel.Tracer("github.com/stuartshay/hospital-locator/internal/directory")

// ErrInvalidRadius is returned for a radius outside the configured choices.
var ErrInvalidRadius = errors.New("radius is not one of the offered choices")

// ErrSuperseded is returned when a newer search was issued before this
// one's response arrived. The stale result, or failure, is discarded.
var ErrSuperseded = errors.New("search superseded by a newer request")

// SearchError is a failed search: a non-2xx status, a transport failure
// (Status 0) or a malformed payload.
type SearchError struct {
	Status  int
	Message string
	Code    string
}

func (e *SearchError) Error() string {
	if e.Status == 0 {
		return "hospital search failed: " + e.Message
	}
	return fmt.Sprintf("hospital search failed (HTTP %d): %s", e.Status, e.Message)
}

// Snapshot is one search result. It is never mutated after publication.
type Snapshot struct {
	Seq         uint64
	Center      calculator.Coordinate
	RadiusKM    int
	Hospitals   []hospital.Hospital
	LastUpdated string
	FetchedAt   time.Time
}

// Coordinates returns the hospital positions in list order.
func (s *Snapshot) Coordinates() []calculator.Coordinate {
	out := make([]calculator.Coordinate, len(s.Hospitals))
	for i, h := range s.Hospitals {
		out[i] = h.Coordinate()
	}
	return out
}

// Find returns the hospital with the given id.
func (s *Snapshot) Find(id int64) (hospital.Hospital, bool) {
	for _, h := range s.Hospitals {
		if h.ID == id {
			return h, true
		}
	}
	return hospital.Hospital{}, false
}

// Getter is the subset of the backend client the directory uses.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values) (*backend.Response, error)
}

// Directory is the hospital directory.
type Directory struct {
	client Getter
	radii  []int

	issued  atomic.Uint64
	applyMu sync.Mutex
	current atomic.Pointer[Snapshot]
}

// New creates a directory offering the given radius choices.
func New(client Getter, radiiKM []int) *Directory {
	return &Directory{
		client: client,
		radii:  slices.Clone(radiiKM),
	}
}

// Radii returns the offered radius choices.
func (d *Directory) Radii() []int {
	return slices.Clone(d.radii)
}

// Current returns the latest applied snapshot, or nil before the first search.
func (d *Directory) Current() *Snapshot {
	return d.current.Load()
}

// Search fetches the hospitals within radiusKM of center and, on success,
// atomically replaces the held snapshot.
func (d *Directory) Search(ctx context.Context, center calculator.Coordinate, radiusKM int) (*Snapshot, error) {
	if !slices.Contains(d.radii, radiusKM) {
		return nil, fmt.Errorf("%w: %d km (choices %v)", ErrInvalidRadius, radiusKM, d.radii)
	}

	seq := d.issued.Add(1)

	ctx, span := tracer.Start(ctx, "directory.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("radius_km", radiusKM),
		attribute.Int64("seq", int64(seq)),
	)

	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(center.Latitude, 'f', -1, 64))
	query.Set("lng", strconv.FormatFloat(center.Longitude, 'f', -1, 64))
	query.Set("radius_km", strconv.Itoa(radiusKM))

	snap, err := d.fetch(ctx, query)

	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	// Only the most recently issued search may change what is held.
	if latest := d.issued.Load(); seq != latest {
		log.Warn().
			Err(err).
			Uint64("seq", seq).
			Uint64("latest_seq", latest).
			Msg("Discarding superseded hospital search response")
		return nil, ErrSuperseded
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	snap.Seq = seq
	snap.Center = center
	snap.RadiusKM = radiusKM
	d.current.Store(snap)

	span.SetAttributes(attribute.Int("hospitals", len(snap.Hospitals)))
	log.Info().
		Int("radius_km", radiusKM).
		Int("hospitals", len(snap.Hospitals)).
		Uint64("seq", seq).
		Msg("Hospital search completed")

	return snap, nil
}

func (d *Directory) fetch(ctx context.Context, query url.Values) (*Snapshot, error) {
	resp, err := d.client.Get(ctx, NearbyHospitalsPath, query)
	if err != nil {
		return nil, &SearchError{Message: err.Error()}
	}
	if !resp.OK() {
		env := resp.Envelope()
		return nil, &SearchError{Status: resp.Status, Message: env.Error, Code: env.Code}
	}

	result, err := hospital.DecodeSearch(resp.Body)
	if err != nil {
		return nil, &SearchError{Status: resp.Status, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return &Snapshot{
		Hospitals:   result.Hospitals,
		LastUpdated: result.LastUpdated,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// StockSummary fetches the global blood stock summary.
func (d *Directory) StockSummary(ctx context.Context) (*hospital.StockSummary, error) {
	resp, err := d.client.Get(ctx, BloodStockPath, nil)
	if err != nil {
		return nil, &SearchError{Message: err.Error()}
	}
	if !resp.OK() {
		env := resp.Envelope()
		return nil, &SearchError{Status: resp.Status, Message: env.Error, Code: env.Code}
	}

	summary, err := hospital.DecodeStockSummary(resp.Body)
	if err != nil {
		return nil, &SearchError{Status: resp.Status, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return summary, nil
}
