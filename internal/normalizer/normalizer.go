// Package normalizer maps source-shaped raw records onto the canonical record schema.
package normalizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/bidharvest/internal/models"
)

// Normalizer applies one source's field mapping. It holds no mutable state.
type Normalizer struct {
	mapping models.FieldMapping
}

// New creates a normalizer for the given field mapping
func New(mapping models.FieldMapping) *Normalizer {
	return &Normalizer{mapping: mapping}
}

// Normalize converts a raw record into a canonical record. It never fails; fields that
// cannot be resolved are left empty and Validate decides whether the result is kept.
func (n *Normalizer) Normalize(raw *models.RawRecord) *models.CanonicalRecord {
	doc := raw.Document()
	field := func(path, name string) string {
		if path == "" {
			path = name
		}
		value, _ := ExtractField(doc, path)
		return value
	}
	m := n.mapping
	record := &models.CanonicalRecord{
		RequisitionNumber:  field(m.RequisitionNumber, "requisitionNumber"),
		BidNumber:          field(m.BidNumber, "bidNumber"),
		SolicitationNumber: field(m.SolicitationNumber, "solicitationNumber"),
		Title:              field(m.Title, "title"),
		Description:        field(m.Description, "description"),
		Summary:            field(m.Summary, "summary"),
		Quantity:           field(m.Quantity, "quantity"),
		UnitOfMeasure:      field(m.UnitOfMeasure, "unitOfMeasure"),
		DetailURL:          field(m.DetailPageURL, "detailPageUrl"),
		RawData:            raw.Payload,
		Status:             models.RecordStatusActive,
	}
	if t, ok := ParseDate(field(m.OpenDate, "openDate")); ok {
		record.OpenDate = &t
	}
	if t, ok := ParseDate(field(m.CloseDate, "closeDate")); ok {
		record.CloseDate = &t
	}
	return record
}

// Validate is the persistence gate: a title and at least one identifier are required
func Validate(record *models.CanonicalRecord) bool {
	if record == nil {
		return false
	}
	if strings.TrimSpace(record.Title) == "" {
		return false
	}
	return record.HasIdentifier()
}

// ExtractField walks a dot-separated key path through nested maps. Missing segments,
// non-scalar leaves and blank strings all resolve to absent.
func ExtractField(data map[string]interface{}, path string) (string, bool) {
	if data == nil || path == "" {
		return "", false
	}

	var current interface{} = data
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[key]
			if !ok {
				return "", false
			}
			current = next
		case map[string]string:
			next, ok := node[key]
			if !ok {
				return "", false
			}
			current = next
		default:
			return "", false
		}
	}

	value := scalarString(current)
	if value == "" {
		return "", false
	}
	return value, true
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int32, int64, uint, uint32, uint64, bool:
		return fmt.Sprint(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return ""
	}
}
