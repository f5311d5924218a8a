// Package export writes hospital search results as spreadsheets.
package export

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/directory"
)

// SheetName is the worksheet holding the hospital rows.
const SheetName = "Hospitals"

// Headers is the header row.
var Headers = []any{
	"ID", "Name", "Address", "City", "State",
	"Phone", "Email", "Emergency",
	"Latitude", "Longitude", "Distance (km)", "Blood Stock",
}

// WriteHospitals writes snap as an XLSX workbook to w. Rows keep the
// snapshot's order. A distance the backend did not report is computed from
// the search center.
func WriteHospitals(w io.Writer, snap *directory.Snapshot) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close workbook")
		}
	}()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("creating stream writer: %w", err)
	}
	if err := sw.SetRow("A1", Headers); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	if snap != nil {
		for i, h := range snap.Hospitals {
			distance := h.DistanceKM
			if distance == 0 {
				distance = calculator.DistanceKM(snap.Center, h.Coordinate())
			}
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			row := []any{
				h.ID, h.Name, h.Address, h.City, h.State,
				h.ContactPhone, h.ContactEmail, h.EmergencyContact,
				h.Latitude, h.Longitude, distance, h.StockSummary(),
			}
			if err := sw.SetRow(cell, row); err != nil {
				return fmt.Errorf("writing row %d: %w", i+2, err)
			}
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flushing sheet: %w", err)
	}

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// SaveHospitals writes snap to path.
func SaveHospitals(path string, snap *directory.Snapshot) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if err := WriteHospitals(out, snap); err != nil {
		return err
	}

	n := 0
	if snap != nil {
		n = len(snap.Hospitals)
	}
	log.Info().Str("path", path).Int("rows", n).Msg("Exported hospitals")
	return nil
}
