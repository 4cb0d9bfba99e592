package models

import (
	"time"
)

// RawRecord is the source-shaped output of an extraction strategy.
// Only Title is expected; every other field is best-effort.
type RawRecord struct {
	Title              string                 `json:"title"`
	RequisitionNumber  string                 `json:"requisitionNumber,omitempty"`
	BidNumber          string                 `json:"bidNumber,omitempty"`
	SolicitationNumber string                 `json:"solicitationNumber,omitempty"`
	Description        string                 `json:"description,omitempty"`
	Summary            string                 `json:"summary,omitempty"`
	OpenDate           string                 `json:"openDate,omitempty"`
	CloseDate          string                 `json:"closeDate,omitempty"`
	Quantity           string                 `json:"quantity,omitempty"`
	UnitOfMeasure      string                 `json:"unitOfMeasure,omitempty"`
	DetailURL          string                 `json:"detailPageUrl,omitempty"`
	Payload            map[string]interface{} `json:"payload,omitempty"`
}

// Document flattens the record into the map the normalizer walks: the opaque payload
// with every populated named field overlaid under its canonical key.
func (r *RawRecord) Document() map[string]interface{} {
	doc := make(map[string]interface{}, len(r.Payload)+11)
	for k, v := range r.Payload {
		doc[k] = v
	}
	set := func(key, value string) {
		if value != "" {
			doc[key] = value
		}
	}
	set("title", r.Title)
	set("requisitionNumber", r.RequisitionNumber)
	set("bidNumber", r.BidNumber)
	set("solicitationNumber", r.SolicitationNumber)
	set("description", r.Description)
	set("summary", r.Summary)
	set("openDate", r.OpenDate)
	set("closeDate", r.CloseDate)
	set("quantity", r.Quantity)
	set("unitOfMeasure", r.UnitOfMeasure)
	set("detailPageUrl", r.DetailURL)
	return doc
}

// RecordStatusActive is the status assigned to freshly persisted records
const RecordStatusActive = "ACTIVE"

// CanonicalRecord is the system-wide normalized bid record
type CanonicalRecord struct {
	ID                 string                 `json:"id"`
	SourceID           string                 `json:"sourceId"`
	JobID              string                 `json:"jobId"`
	RequisitionNumber  string                 `json:"requisitionNumber,omitempty"`
	BidNumber          string                 `json:"bidNumber,omitempty"`
	SolicitationNumber string                 `json:"solicitationNumber,omitempty"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description,omitempty"`
	Summary            string                 `json:"summary,omitempty"`
	OpenDate           *time.Time             `json:"openDate,omitempty"`
	CloseDate          *time.Time             `json:"closeDate,omitempty"`
	Quantity           string                 `json:"quantity,omitempty"`
	UnitOfMeasure      string                 `json:"unitOfMeasure,omitempty"`
	DetailURL          string                 `json:"detailPageUrl,omitempty"`
	RawData            map[string]interface{} `json:"rawData,omitempty"`
	Status             string                 `json:"status"`
	CreatedAt          time.Time              `json:"createdAt"`
	Sequence           string                 `json:"-"`
}

// HasIdentifier reports whether any of the three identifier fields is present
func (r *CanonicalRecord) HasIdentifier() bool {
	return r.RequisitionNumber != "" || r.BidNumber != "" || r.SolicitationNumber != ""
}
