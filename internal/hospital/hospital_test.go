package hospital

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchBody = `{
	"hospitals": [
		{
			"id": 7,
			"name": "Lilavati Hospital",
			"address": "A-791, Bandra Reclamation",
			"city": "Mumbai",
			"state": "Maharashtra",
			"contact_phone": "+91-22-26751000",
			"contact_email": "info@lilavati.example",
			"emergency_contact": "+91-22-26568000",
			"latitude": "19.0509",
			"longitude": "72.8294",
			"distance": "5.61",
			"blood_stock": {
				"O-": {"units": 4, "available": true},
				"A+": {"units": 50, "available": true},
				"B-": {"units": 0, "available": false}
			},
			"blood_bank_available": true,
			"is_partner": true
		}
	],
	"total_found": 1,
	"search_radius_km": 10,
	"last_updated": "2026-10-16T09:00:00Z"
}`

func TestDecodeSearch(t *testing.T) {
	result, err := DecodeSearch([]byte(searchBody))
	require.NoError(t, err)
	require.Len(t, result.Hospitals, 1)

	want := Hospital{
		ID:               7,
		Name:             "Lilavati Hospital",
		Address:          "A-791, Bandra Reclamation",
		City:             "Mumbai",
		State:            "Maharashtra",
		ContactPhone:     "+91-22-26751000",
		ContactEmail:     "info@lilavati.example",
		EmergencyContact: "+91-22-26568000",
		Latitude:         19.0509,
		Longitude:        72.8294,
		DistanceKM:       5.61,
		BloodStock: map[string]StockLevel{
			"O-": {Units: 4, Available: true},
			"A+": {Units: 50, Available: true},
			"B-": {Units: 0, Available: false},
		},
		BloodBankAvailable: true,
		IsPartner:          true,
	}
	if diff := cmp.Diff(want, result.Hospitals[0]); diff != "" {
		t.Errorf("DecodeSearch() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, result.TotalFound)
	assert.Equal(t, 10, result.SearchRadiusKM)
}

func TestDecodeSearch_NumericFields(t *testing.T) {
	body := `{"hospitals":[{"id":1,"name":"City Hospital","latitude":28.61,"longitude":77.2,"distance":0,"blood_stock":{}}]}`

	result, err := DecodeSearch([]byte(body))
	require.NoError(t, err)
	assert.InDelta(t, 28.61, result.Hospitals[0].Latitude, 1e-9)
	assert.True(t, result.Hospitals[0].IsPartner, "missing is_partner defaults to true")
}

func TestDecodeSearch_Empty(t *testing.T) {
	result, err := DecodeSearch([]byte(`{"hospitals": [], "total_found": 0}`))
	require.NoError(t, err)
	assert.Empty(t, result.Hospitals)
}

func TestDecodeSearch_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>login</html>`},
		{"missing hospitals", `{"total_found": 0}`},
		{"null hospitals", `{"hospitals": null}`},
		{"missing id", `{"hospitals":[{"name":"X","latitude":1,"longitude":1,"distance":1}]}`},
		{"empty name", `{"hospitals":[{"id":1,"name":" ","latitude":1,"longitude":1,"distance":1}]}`},
		{"null latitude", `{"hospitals":[{"id":1,"name":"X","latitude":null,"longitude":1,"distance":1}]}`},
		{"latitude out of range", `{"hospitals":[{"id":1,"name":"X","latitude":"91.5","longitude":1,"distance":1}]}`},
		{"non numeric distance", `{"hospitals":[{"id":1,"name":"X","latitude":1,"longitude":1,"distance":"far"}]}`},
		{"missing distance", `{"hospitals":[{"id":1,"name":"X","latitude":1,"longitude":1}]}`},
		{"negative units", `{"hospitals":[{"id":1,"name":"X","latitude":1,"longitude":1,"distance":1,"blood_stock":{"A+":{"units":-1}}}]}`},
		{"missing units", `{"hospitals":[{"id":1,"name":"X","latitude":1,"longitude":1,"distance":1,"blood_stock":{"A+":{"available":true}}}]}`},
		{"total mismatch", `{"hospitals":[],"total_found":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSearch([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestStockSummary(t *testing.T) {
	h := Hospital{BloodStock: map[string]StockLevel{
		"O-":  {Units: 25, Available: true},
		"AB+": {Units: 0, Available: false},
		"A+":  {Units: 50, Available: true},
		"Rh0": {Units: 1, Available: true},
	}}

	assert.Equal(t, []string{"A+", "AB+", "O-", "Rh0"}, h.BloodTypes())
	assert.Equal(t, "A+: 50, O-: 25, Rh0: 1", h.StockSummary())

	assert.Equal(t, "No stock available", Hospital{}.StockSummary())
}

func TestStockLevelStatus(t *testing.T) {
	assert.Equal(t, StockAvailable, StockLevel{Units: 11}.Status())
	assert.Equal(t, StockLow, StockLevel{Units: 10}.Status())
	assert.Equal(t, StockLow, StockLevel{Units: 1}.Status())
	assert.Equal(t, StockUnavailable, StockLevel{}.Status())
}

func TestFullAddress(t *testing.T) {
	h := Hospital{Address: "12 Ring Road", City: "Delhi", State: ""}
	assert.Equal(t, "12 Ring Road, Delhi", h.FullAddress())
}

func TestDecodeStockSummary(t *testing.T) {
	summary, err := DecodeStockSummary([]byte(`{
		"blood_stock": {"A+": {"units": 12, "available": true, "status": "available"}},
		"total_units": 12,
		"blood_types_count": 1,
		"last_updated": "2026-10-16T09:00:00Z"
	}`))
	require.NoError(t, err)
	assert.Equal(t, 12, summary.TotalUnits)
	assert.Equal(t, StockLevel{Units: 12, Available: true}, summary.BloodStock["A+"])

	_, err = DecodeStockSummary([]byte(`{"total_units": 3}`))
	assert.Error(t, err)
}
