package agreement

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"agreementexport/esign"
)

// ErrMissingEnvelopeID signals a listing entry without an id under any accepted key.
var ErrMissingEnvelopeID = errors.New("agreement: envelope missing envelopeId")

// Accepted upstream keys, in precedence order: the first present non-empty key wins.
var (
	envelopeIDKeys   = []string{"envelopeId", "envelope_id"}
	subjectKeys      = []string{"emailSubject", "subject"}
	documentIDKeys   = []string{"documentId", "document_id"}
	documentNameKeys = []string{"name", "documentName"}
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// EnvelopeID extracts the id of a raw envelope, or "" when absent.
func EnvelopeID(raw esign.RawObject) string {
	id, _ := raw.String(envelopeIDKeys...)
	return id
}

// NormalizeEnvelope maps a raw listing entry onto EnvelopeSummary.
func NormalizeEnvelope(raw esign.RawObject) (EnvelopeSummary, error) {
	id := EnvelopeID(raw)
	if id == "" {
		return EnvelopeSummary{}, ErrMissingEnvelopeID
	}
	status, _ := raw.String("status")
	return EnvelopeSummary{
		EnvelopeID:        id,
		Status:            status,
		Subject:           optString(raw, subjectKeys...),
		SenderEmail:       optString(raw, "senderEmail"),
		SenderName:        optString(raw, "senderName"),
		CreatedDateTime:   parseTimestamp(raw, "createdDateTime"),
		CompletedDateTime: parseTimestamp(raw, "completedDateTime"),
	}, nil
}

// NormalizeDocuments maps raw document entries onto DocumentInfo, skipping
// entries without an id. When an id repeats, only its first entry is kept.
func NormalizeDocuments(raw []esign.RawObject) []DocumentInfo {
	docs := make([]DocumentInfo, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, d := range raw {
		id, idKey := firstKey(d, documentIDKeys...)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		used := map[string]bool{idKey: true, "type": true, "uri": true}

		name, nameKey := firstKey(d, documentNameKeys...)
		if name == "" {
			name = "document_" + id
		} else {
			used[nameKey] = true
		}

		extra := esign.RawObject{}
		for k, v := range d {
			if !used[k] {
				extra[k] = v
			}
		}

		docs = append(docs, DocumentInfo{
			DocumentID: id,
			Name:       name,
			Type:       optString(d, "type"),
			URI:        optString(d, "uri"),
			Raw:        extra,
		})
	}
	return docs
}

func firstKey(raw esign.RawObject, keys ...string) (string, string) {
	for _, k := range keys {
		if v, ok := raw.String(k); ok {
			return v, k
		}
	}
	return "", ""
}

func optString(raw esign.RawObject, keys ...string) *string {
	v, ok := raw.String(keys...)
	if !ok {
		return nil
	}
	return &v
}

// parseTimestamp reads an ISO-8601 value. Unparsable or absent values yield nil.
func parseTimestamp(raw esign.RawObject, key string) *time.Time {
	data, ok := raw[key]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
