package agreement

import (
	"errors"
	"testing"
	"time"

	"agreementexport/esign"
)

func TestNormalizeEnvelope(t *testing.T) {
	raw := mustRaw(`{
		"envelopeId": "e1",
		"status": "completed",
		"emailSubject": "Please sign",
		"subject": "ignored",
		"senderEmail": "a@example.com",
		"createdDateTime": "2024-03-01T10:20:30.1234567Z",
		"completedDateTime": "not a date"
	}`)

	got, err := NormalizeEnvelope(raw)
	if err != nil {
		t.Fatalf("NormalizeEnvelope: %v", err)
	}
	if got.EnvelopeID != "e1" || got.Status != "completed" {
		t.Errorf("got %+v", got)
	}
	if got.Subject == nil || *got.Subject != "Please sign" {
		t.Errorf("subject = %v", got.Subject)
	}
	if got.SenderEmail == nil || *got.SenderEmail != "a@example.com" {
		t.Errorf("sender email = %v", got.SenderEmail)
	}
	if got.SenderName != nil {
		t.Errorf("sender name should be nil")
	}
	want := time.Date(2024, 3, 1, 10, 20, 30, 123456700, time.UTC)
	if got.CreatedDateTime == nil || !got.CreatedDateTime.Equal(want) {
		t.Errorf("created = %v", got.CreatedDateTime)
	}
	if got.CompletedDateTime != nil {
		t.Errorf("unparsable timestamp should be nil, got %v", got.CompletedDateTime)
	}
}

func TestNormalizeEnvelope_AlternateKeys(t *testing.T) {
	got, err := NormalizeEnvelope(mustRaw(`{"envelope_id":"e2","subject":"Fallback","createdDateTime":"2024-03-01"}`))
	if err != nil {
		t.Fatalf("NormalizeEnvelope: %v", err)
	}
	if got.EnvelopeID != "e2" || got.Subject == nil || *got.Subject != "Fallback" {
		t.Errorf("got %+v", got)
	}
	if got.Status != "" {
		t.Errorf("status = %q", got.Status)
	}
	if got.CreatedDateTime == nil || got.CreatedDateTime.Day() != 1 {
		t.Errorf("created = %v", got.CreatedDateTime)
	}
}

func TestNormalizeEnvelope_MissingID(t *testing.T) {
	for _, in := range []string{`{}`, `{"envelopeId":""}`, `{"envelopeId":null}`} {
		if _, err := NormalizeEnvelope(mustRaw(in)); !errors.Is(err, ErrMissingEnvelopeID) {
			t.Errorf("%s: err = %v", in, err)
		}
	}
}

func TestNormalizeDocuments(t *testing.T) {
	docs := NormalizeDocuments([]esign.RawObject{
		mustRaw(`{"documentId":"1","name":"Contract","type":"content","uri":"/d/1","order":"1","pages":[{"n":1}]}`),
		mustRaw(`{"document_id":"2","documentName":"Annex"}`),
		mustRaw(`{"name":"no id"}`),
		mustRaw(`{"documentId":3}`),
	})

	if len(docs) != 3 {
		t.Fatalf("docs = %d", len(docs))
	}

	first := docs[0]
	if first.DocumentID != "1" || first.Name != "Contract" {
		t.Errorf("first = %+v", first)
	}
	if first.Type == nil || *first.Type != "content" || first.URI == nil || *first.URI != "/d/1" {
		t.Errorf("type/uri = %v %v", first.Type, first.URI)
	}
	if len(first.Raw) != 2 || string(first.Raw["pages"]) != `[{"n":1}]` {
		t.Errorf("raw = %v", first.Raw)
	}
	for _, k := range []string{"documentId", "name", "type", "uri"} {
		if _, ok := first.Raw[k]; ok {
			t.Errorf("raw should not repeat mapped key %q", k)
		}
	}

	if docs[1].DocumentID != "2" || docs[1].Name != "Annex" || len(docs[1].Raw) != 0 {
		t.Errorf("second = %+v", docs[1])
	}
	if docs[2].DocumentID != "3" || docs[2].Name != "document_3" {
		t.Errorf("third = %+v", docs[2])
	}
}

func TestNormalizeDocuments_FirstOfDuplicateIDWins(t *testing.T) {
	docs := NormalizeDocuments([]esign.RawObject{
		mustRaw(`{"documentId":"1","name":"Contract"}`),
		mustRaw(`{"documentId":"2","name":"Annex"}`),
		mustRaw(`{"document_id":1,"name":"Contract copy"}`),
	})
	if len(docs) != 2 {
		t.Fatalf("docs = %d, want 2", len(docs))
	}
	if docs[0].DocumentID != "1" || docs[0].Name != "Contract" || docs[1].DocumentID != "2" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestNormalizeDocuments_Empty(t *testing.T) {
	docs := NormalizeDocuments(nil)
	if docs == nil || len(docs) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", docs)
	}
}
