package infra

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"agreementexport/auth"
)

const (
	AccountID   = "acct-0000000001"
	AccessToken = "test-access-token"
)

type Document struct {
	ID          string
	Name        string
	ContentType string
	Body        []byte
}

type Envelope struct {
	ID        string
	Status    string
	Subject   string
	Documents []Document
}

type failure struct {
	status    int
	remaining int
}

// ESignServer is an in-process stand-in for the remote e-signature service:
// token grant, userinfo, envelope listing, document listing and content.
type ESignServer struct {
	*httptest.Server

	// PublicKey, when set, is used to verify assertions on the token endpoint.
	PublicKey *rsa.PublicKey

	mu        sync.Mutex
	envelopes []Envelope
	failures  map[string]*failure
	hits      map[string]int
}

// StartESign serves envelopes in the given order. Middlewares wrap the whole
// handler, outermost first.
func StartESign(envelopes []Envelope, middlewares ...func(http.Handler) http.Handler) *ESignServer {
	s := &ESignServer{
		envelopes: envelopes,
		failures:  map[string]*failure{},
		hits:      map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", s.token)
	mux.HandleFunc("GET /oauth/userinfo", s.userinfo)
	mux.HandleFunc("GET /restapi/v2.1/accounts/{account}/envelopes", s.listEnvelopes)
	mux.HandleFunc("GET /restapi/v2.1/accounts/{account}/envelopes/{id}/documents", s.listDocuments)
	mux.HandleFunc("GET /restapi/v2.1/accounts/{account}/envelopes/{id}/documents/{doc}", s.document)

	var h http.Handler = s.injectFailures(mux)
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	s.Server = httptest.NewServer(h)
	return s
}

// Fail answers the next times requests to path with status. A negative
// times fails every request.
func (s *ESignServer) Fail(path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = &failure{status: status, remaining: times}
}

// Hits returns how many requests reached path, failed ones included.
func (s *ESignServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *ESignServer) EnvelopesPath() string {
	return "/restapi/v2.1/accounts/" + AccountID + "/envelopes"
}

func (s *ESignServer) DocumentsPath(envelopeID string) string {
	return s.EnvelopesPath() + "/" + envelopeID + "/documents"
}

func (s *ESignServer) DocumentPath(envelopeID, documentID string) string {
	return s.DocumentsPath(envelopeID) + "/" + documentID
}

func (s *ESignServer) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		f := s.failures[r.URL.Path]
		status := 0
		if f != nil && f.remaining != 0 {
			status = f.status
			if f.remaining > 0 {
				f.remaining--
			}
		}
		s.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]string{"errorCode": "INJECTED", "message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *ESignServer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != auth.JWTBearerGrant {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	assertion := r.PostForm.Get("assertion")
	if assertion == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	if s.PublicKey != nil {
		_, err := jwt.Parse(assertion, func(*jwt.Token) (any, error) { return s.PublicKey, nil },
			jwt.WithValidMethods([]string{"RS256"}))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": AccessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *ESignServer) userinfo(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub": "user",
		"accounts": []map[string]any{
			{"account_id": "acct-other", "account_name": "Other", "base_uri": "http://127.0.0.1:1", "is_default": false},
			{"account_id": AccountID, "account_name": "Primary", "base_uri": s.URL, "is_default": true},
		},
	})
}

func (s *ESignServer) listEnvelopes(w http.ResponseWriter, r *http.Request) {
	if !s.scoped(w, r) {
		return
	}
	q := r.URL.Query()
	if q.Get("from_date") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorCode": "INVALID_REQUEST_PARAMETER"})
		return
	}
	start, _ := strconv.Atoi(q.Get("start_position"))
	count, err := strconv.Atoi(q.Get("count"))
	if err != nil || count < 1 {
		count = 100
	}

	s.mu.Lock()
	total := len(s.envelopes)
	var page []map[string]any
	for i := start; i < total && i < start+count; i++ {
		e := s.envelopes[i]
		page = append(page, map[string]any{
			"envelopeId":      e.ID,
			"status":          e.Status,
			"emailSubject":    e.Subject,
			"senderEmail":     "sender@example.com",
			"createdDateTime": "2024-01-02T03:04:05.1234567Z",
		})
	}
	s.mu.Unlock()

	// Counters arrive as strings, as the real service sends them.
	writeJSON(w, http.StatusOK, map[string]any{
		"envelopes":     page,
		"resultSetSize": strconv.Itoa(len(page)),
		"totalSetSize":  strconv.Itoa(total),
		"startPosition": strconv.Itoa(start),
	})
}

func (s *ESignServer) listDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.scoped(w, r) {
		return
	}
	e, ok := s.envelope(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"errorCode": "ENVELOPE_DOES_NOT_EXIST"})
		return
	}
	docs := make([]map[string]any, 0, len(e.Documents))
	for i, d := range e.Documents {
		docs = append(docs, map[string]any{
			"documentId": d.ID,
			"name":       d.Name,
			"type":       "content",
			"uri":        s.DocumentPath(e.ID, d.ID),
			"order":      strconv.Itoa(i + 1),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"envelopeId": e.ID, "envelopeDocuments": docs})
}

func (s *ESignServer) document(w http.ResponseWriter, r *http.Request) {
	if !s.scoped(w, r) {
		return
	}
	e, ok := s.envelope(r.PathValue("id"))
	if ok {
		for _, d := range e.Documents {
			if d.ID == r.PathValue("doc") {
				ct := d.ContentType
				if ct == "" {
					ct = "application/pdf"
				}
				w.Header().Set("Content-Type", ct)
				w.Header().Set("Content-Length", strconv.Itoa(len(d.Body)))
				_, _ = w.Write(d.Body)
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"errorCode": "DOCUMENT_DOES_NOT_EXIST"})
}

func (s *ESignServer) envelope(id string) (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.envelopes {
		if e.ID == id {
			return e, true
		}
	}
	return Envelope{}, false
}

func (s *ESignServer) scoped(w http.ResponseWriter, r *http.Request) bool {
	if !authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"errorCode": "USER_AUTHENTICATION_FAILED"})
		return false
	}
	if r.PathValue("account") != AccountID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorCode": "INVALID_ACCOUNT"})
		return false
	}
	return true
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+AccessToken
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Envelopes builds n envelopes e-001.. each holding docs PDF documents.
func Envelopes(n, docs int) []Envelope {
	out := make([]Envelope, 0, n)
	for i := 1; i <= n; i++ {
		e := Envelope{
			ID:      fmt.Sprintf("e-%03d", i),
			Status:  "completed",
			Subject: fmt.Sprintf("Agreement %d", i),
		}
		for j := 1; j <= docs; j++ {
			e.Documents = append(e.Documents, Document{
				ID:   strconv.Itoa(j),
				Name: fmt.Sprintf("Document %d", j),
				Body: []byte(fmt.Sprintf("%%PDF envelope %d document %d", i, j)),
			})
		}
		out = append(out, e)
	}
	return out
}
