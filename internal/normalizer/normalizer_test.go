package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/bidharvest/internal/models"
)

func TestValidate(t *testing.T) {
	assert.False(t, Validate(&models.CanonicalRecord{Title: ""}))
	assert.False(t, Validate(&models.CanonicalRecord{Title: "x"}))
	assert.False(t, Validate(&models.CanonicalRecord{Title: "   ", BidNumber: "7"}))
	assert.True(t, Validate(&models.CanonicalRecord{Title: "x", RequisitionNumber: "1"}))
	assert.True(t, Validate(&models.CanonicalRecord{Title: "x", BidNumber: "B-1"}))
	assert.True(t, Validate(&models.CanonicalRecord{Title: "x", SolicitationNumber: "S-1"}))
	assert.False(t, Validate(nil))
}

func TestParseDate_EquivalentFormats(t *testing.T) {
	want := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

	for _, input := range []string{
		"2024-01-15",
		"01/15/2024",
		"Jan 15, 2024",
		"January 15, 2024",
		"15-Jan-2024",
		"2024/01/15",
		"2024-01-15T09:30:00Z",
		"  1/15/2024  ",
	} {
		got, ok := ParseDate(input)
		require.True(t, ok, "expected %q to parse", input)
		assert.True(t, got.Equal(want), "%q parsed to %s", input, got)
	}
}

func TestParseDate_DayFirstFallback(t *testing.T) {
	got, ok := ParseDate("25/12/2024")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.December, 25, 0, 0, 0, 0, time.UTC), got)
}

func TestParseDate_Invalid(t *testing.T) {
	for _, input := range []string{"not-a-date", "", "   ", "13/45/2024"} {
		_, ok := ParseDate(input)
		assert.False(t, ok, "expected %q to be absent", input)
	}
}

func TestParseDate_OutOfRangeYear(t *testing.T) {
	_, ok := ParseDate("0001-01-01")
	assert.False(t, ok)
}

func TestExtractField(t *testing.T) {
	data := map[string]interface{}{
		"bid_id": "  RFQ-12 ",
		"blank":  "   ",
		"count":  float64(12),
		"nested": map[string]interface{}{
			"inner": map[string]interface{}{"value": "deep"},
		},
		"cells": map[string]string{"Bid Number": "B-77"},
	}

	v, ok := ExtractField(data, "bid_id")
	assert.True(t, ok)
	assert.Equal(t, "RFQ-12", v)

	v, ok = ExtractField(data, "nested.inner.value")
	assert.True(t, ok)
	assert.Equal(t, "deep", v)

	v, ok = ExtractField(data, "cells.Bid Number")
	assert.True(t, ok)
	assert.Equal(t, "B-77", v)

	v, ok = ExtractField(data, "count")
	assert.True(t, ok)
	assert.Equal(t, "12", v)

	_, ok = ExtractField(data, "blank")
	assert.False(t, ok)

	_, ok = ExtractField(data, "nested.missing.value")
	assert.False(t, ok)

	_, ok = ExtractField(data, "bid_id.deeper")
	assert.False(t, ok)

	_, ok = ExtractField(data, "nested")
	assert.False(t, ok, "maps are not scalar values")
}

func TestNormalize_FieldMapping(t *testing.T) {
	n := New(models.FieldMapping{
		RequisitionNumber: "bid_id",
		Title:             "bid_title",
		OpenDate:          "issue_date",
		CloseDate:         "dates.due",
	})

	raw := &models.RawRecord{
		Title: "ignored because mapping points elsewhere",
		Payload: map[string]interface{}{
			"bid_id":     "REQ-001",
			"bid_title":  " Road Salt ",
			"issue_date": "01/15/2024",
			"dates":      map[string]interface{}{"due": "Feb 1, 2024"},
			"quantity":   float64(40),
		},
	}

	rec := n.Normalize(raw)
	assert.Equal(t, "REQ-001", rec.RequisitionNumber)
	assert.Equal(t, "Road Salt", rec.Title)
	assert.Equal(t, "40", rec.Quantity)
	require.NotNil(t, rec.OpenDate)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *rec.OpenDate)
	require.NotNil(t, rec.CloseDate)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *rec.CloseDate)
	assert.Equal(t, models.RecordStatusActive, rec.Status)
	assert.True(t, Validate(rec))
}

func TestNormalize_DefaultKeysFromNamedFields(t *testing.T) {
	n := New(models.FieldMapping{})
	rec := n.Normalize(&models.RawRecord{
		Title:       "Snow Plows",
		BidNumber:   "B-9",
		OpenDate:    "not-a-date",
		DetailURL:   "https://example.gov/bids/9",
		Description: "",
	})

	assert.Equal(t, "Snow Plows", rec.Title)
	assert.Equal(t, "B-9", rec.BidNumber)
	assert.Equal(t, "https://example.gov/bids/9", rec.DetailURL)
	assert.Nil(t, rec.OpenDate)
	assert.Empty(t, rec.Description)
}

func TestNormalize_MissingTitleIsDropped(t *testing.T) {
	rec := New(models.FieldMapping{}).Normalize(&models.RawRecord{
		Payload: map[string]interface{}{"requisitionNumber": "R-1"},
	})
	assert.Empty(t, rec.Title)
	assert.False(t, Validate(rec))
}

func TestNormalize_Deterministic(t *testing.T) {
	mapping := models.FieldMapping{Title: "t", SolicitationNumber: "s", OpenDate: "d"}
	raw := &models.RawRecord{Payload: map[string]interface{}{"t": "Asphalt", "s": "S-3", "d": "2024-03-04"}}

	first := New(mapping).Normalize(raw)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, New(mapping).Normalize(raw))
	}
}
