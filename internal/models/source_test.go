package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSource() *Source {
	return &Source{
		ID:         "county",
		Name:       "County Purchasing",
		ListingURL: "https://bids.county.example/open",
		AuthMode:   AuthModeOpen,
	}
}

func TestSourceValidate(t *testing.T) {
	require.NoError(t, validSource().Validate())

	tests := []struct {
		name   string
		mutate func(*Source)
	}{
		{"missing listing url", func(s *Source) { s.ListingURL = "" }},
		{"unknown auth mode", func(s *Source) { s.AuthMode = "SSO" }},
		{"login without url", func(s *Source) {
			s.AuthMode = AuthModeLoginRequired
			s.CredentialID = "cred"
		}},
		{"login without credential", func(s *Source) {
			s.AuthMode = AuthModeLoginRequired
			s.LoginURL = "https://bids.county.example/login"
		}},
		{"bad schedule", func(s *Source) { s.Schedule = "daily at six" }},
		{"negative rate limit", func(s *Source) { s.Strategy.RateLimitMs = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSource()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), `"county"`)
		})
	}

	s := validSource()
	s.AuthMode = AuthModeLoginRequired
	s.LoginURL = "https://bids.county.example/login"
	s.CredentialID = "cred"
	s.Schedule = "0 6 * * 1-5"
	assert.NoError(t, s.Validate())
	assert.True(t, s.RequiresLogin())
}

func TestJobLifecycle(t *testing.T) {
	job := NewJob("job-1", "county", TriggerManual)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.False(t, job.IsTerminal())

	job.MarkStarted()
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, 1, job.Attempt)

	job.MarkFailed("portal down", 1)
	assert.True(t, job.IsTerminal())
	assert.False(t, job.IsCancelled())

	job.MarkStarted()
	assert.Equal(t, 2, job.Attempt)
	assert.Empty(t, job.ErrorMessage)
	assert.Nil(t, job.CompletedAt)

	job.MarkCompleted(3, 2, 1)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.RecordsFound)
	assert.Equal(t, 2, job.RecordsAdded)

	cancelled := NewJob("job-2", "county", TriggerScheduled)
	cancelled.MarkFailed(CancelledBeforeStart, 0)
	assert.True(t, cancelled.IsCancelled())
}

func TestRawRecordDocumentOverlaysNamedFields(t *testing.T) {
	raw := &RawRecord{
		Title:     "Road Salt",
		BidNumber: "B-1",
		Payload:   map[string]interface{}{"title": "row text", "cells": map[string]string{"Posted": "01/15/2024"}},
	}
	doc := raw.Document()
	assert.Equal(t, "Road Salt", doc["title"])
	assert.Equal(t, "B-1", doc["bidNumber"])
	assert.NotContains(t, doc, "summary")
	assert.Equal(t, "row text", raw.Payload["title"])
}
