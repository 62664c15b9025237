package agreement

import (
	"time"

	"agreementexport/esign"
	"agreementexport/export"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// EnvelopeSummary is the normalized listing entry of one envelope.
// Timestamps that cannot be parsed are left nil.
type EnvelopeSummary struct {
	EnvelopeID        string     `json:"envelope_id"`
	Status            string     `json:"status"`
	Subject           *string    `json:"subject"`
	SenderEmail       *string    `json:"sender_email"`
	SenderName        *string    `json:"sender_name"`
	CreatedDateTime   *time.Time `json:"created_date_time"`
	CompletedDateTime *time.Time `json:"completed_date_time"`
}

// DocumentInfo describes one document of an envelope. Raw keeps every upstream
// attribute that was not mapped to a field, byte-for-byte.
type DocumentInfo struct {
	DocumentID string          `json:"document_id"`
	Name       string          `json:"name"`
	Type       *string         `json:"type"`
	URI        *string         `json:"uri"`
	Raw        esign.RawObject `json:"raw"`
}

// Agreement is one envelope plus its documents, as written to agreement.json.
type Agreement struct {
	Envelope  EnvelopeSummary `json:"envelope"`
	Documents []DocumentInfo  `json:"documents"`
}

// ExportedAgreement is the single record produced for every listed envelope,
// whichever state its processing stopped in.
type ExportedAgreement struct {
	Agreement Agreement
	Paths     export.Paths
	// Exported is set once agreement.json has been written.
	Exported        bool
	DownloadedFiles []string
	Failures        []string
}

// Succeeded reports whether no failure was recorded for the envelope.
func (e ExportedAgreement) Succeeded() bool {
	return len(e.Failures) == 0
}

func (e ExportedAgreement) indexRow() export.IndexRow {
	return export.IndexRow{
		EnvelopeID:      e.Agreement.Envelope.EnvelopeID,
		Status:          e.Agreement.Envelope.Status,
		Subject:         e.Agreement.Envelope.Subject,
		AgreementDir:    e.Paths.AgreementDir,
		AgreementJSON:   e.Paths.AgreementJSON,
		DocumentsDir:    e.Paths.DocumentsDir,
		DownloadedFiles: e.DownloadedFiles,
		Failures:        e.Failures,
	}
}

// RunResult aggregates one run.
type RunResult struct {
	RunID      string
	OutDir     string
	IndexPath  string
	Agreements []ExportedAgreement
	// Failures flattens every agreement's failures plus run-level ones, in order.
	Failures   []string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
}

// ExportedCount returns how many agreements had their metadata written.
func (r RunResult) ExportedCount() int {
	n := 0
	for _, a := range r.Agreements {
		if a.Exported {
			n++
		}
	}
	return n
}

// DeriveStatus computes the run status: ok when something was exported and
// nothing failed, partial when something was exported and something failed,
// failed when nothing was exported.
func DeriveStatus(agreements []ExportedAgreement, failures []string) Status {
	exported := false
	for _, a := range agreements {
		if a.Exported {
			exported = true
			break
		}
	}
	switch {
	case !exported:
		return StatusFailed
	case len(failures) > 0:
		return StatusPartial
	default:
		return StatusOK
	}
}
