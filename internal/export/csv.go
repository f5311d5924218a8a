package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/directory"
)

// WriteCSV writes snap as CSV rows followed by a summary footer.
func WriteCSV(w io.Writer, snap *directory.Snapshot) error {
	writer := csv.NewWriter(w)

	header := []string{
		"id", "name", "address", "phone", "emergency_contact",
		"latitude", "longitude", "distance_km", "blood_stock",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	var metrics calculator.DistanceMetrics
	if snap != nil {
		metrics = calculator.CalculateMetrics(snap.Center, snap.Coordinates())
		for _, h := range snap.Hospitals {
			distance := h.DistanceKM
			if distance == 0 {
				distance = calculator.DistanceKM(snap.Center, h.Coordinate())
			}
			row := []string{
				fmt.Sprintf("%d", h.ID),
				h.Name,
				h.FullAddress(),
				h.ContactPhone,
				h.EmergencyContact,
				fmt.Sprintf("%.6f", h.Latitude),
				fmt.Sprintf("%.6f", h.Longitude),
				fmt.Sprintf("%.2f", distance),
				h.StockSummary(),
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	// Summary footer
	_ = writer.Write([]string{})
	_ = writer.Write([]string{"Summary"})
	_ = writer.Write([]string{"Total Hospitals", fmt.Sprintf("%d", metrics.TotalLocations)})
	_ = writer.Write([]string{"Nearest (km)", fmt.Sprintf("%.2f", metrics.NearestKM)})
	_ = writer.Write([]string{"Farthest (km)", fmt.Sprintf("%.2f", metrics.FarthestKM)})
	_ = writer.Write([]string{"Average Distance (km)", fmt.Sprintf("%.2f", metrics.AvgDistanceKM)})

	writer.Flush()
	return writer.Error()
}

// Filename returns the export file name for a search, e.g.
// "hospitals_20261016_10km.csv".
func Filename(snap *directory.Snapshot, ext string) string {
	at := time.Now()
	radius := 0
	if snap != nil {
		radius = snap.RadiusKM
		if !snap.FetchedAt.IsZero() {
			at = snap.FetchedAt
		}
	}
	return fmt.Sprintf("hospitals_%s_%dkm.%s", at.Format("20060102"), radius, strings.TrimPrefix(ext, "."))
}

// SaveCSV writes snap into dir and returns the file path.
func SaveCSV(dir string, snap *directory.Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, Filename(snap, "csv"))

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close CSV file")
		}
	}()

	if err := WriteCSV(file, snap); err != nil {
		return "", err
	}

	log.Info().Str("csv_path", path).Msg("CSV file generated successfully")
	return path, nil
}
