package esign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// AccountContext scopes every data call. It is resolved once per run.
type AccountContext struct {
	BaseURI   string
	AccountID string
}

// RawObject is an upstream JSON object kept byte-for-byte per key.
type RawObject map[string]json.RawMessage

// String returns the first of keys that holds a non-empty string or number.
func (o RawObject) String(keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := o[k]
		if !ok {
			continue
		}
		if s, ok := scalarString(raw); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

// Count is a pagination counter the service sends either as a number or as a
// numeric string. Valid is false when the field is absent, null, or unparsable.
type Count struct {
	Value int
	Valid bool
}

func (c *Count) UnmarshalJSON(data []byte) error {
	*c = Count{}
	s, ok := scalarString(data)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	*c = Count{Value: n, Valid: true}
	return nil
}

// Or returns the counter, or fallback when it is missing or not positive.
func (c Count) Or(fallback int) int {
	if !c.Valid || c.Value <= 0 {
		return fallback
	}
	return c.Value
}

// ListParams selects one page of envelopes.
type ListParams struct {
	FromDate string
	// ToDate is optional; empty means open-ended.
	ToDate        string
	Status        string
	StartPosition int
	Count         int
}

func (p ListParams) validate() error {
	if p.FromDate == "" {
		return fmt.Errorf("esign: from date is required")
	}
	if p.Count < MinPageSize || p.Count > MaxPageSize {
		return fmt.Errorf("esign: page size %d outside [%d, %d]", p.Count, MinPageSize, MaxPageSize)
	}
	if p.StartPosition < 0 {
		return fmt.Errorf("esign: negative start position %d", p.StartPosition)
	}
	return nil
}

// EnvelopePage is one page of the envelope listing.
type EnvelopePage struct {
	Envelopes     []RawObject `json:"envelopes"`
	ResultSetSize Count       `json:"resultSetSize"`
	TotalSetSize  Count       `json:"totalSetSize"`
	StartPosition Count       `json:"startPosition"`
	EndPosition   Count       `json:"endPosition"`
}

type documentsPayload struct {
	EnvelopeDocuments []RawObject `json:"envelopeDocuments"`
	Documents         []RawObject `json:"documents"`
}

func (p documentsPayload) list() []RawObject {
	if len(p.EnvelopeDocuments) > 0 {
		return p.EnvelopeDocuments
	}
	return p.Documents
}

// DocumentStream is an open document download. The caller must close Body.
type DocumentStream struct {
	Body   io.ReadCloser
	Header http.Header
}

// ContentType returns the lower-cased media type without parameters.
func (s *DocumentStream) ContentType() string {
	ct := s.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
}
