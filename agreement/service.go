package agreement

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"agreementexport/auth"
	"agreementexport/esign"
	"agreementexport/export"
)

const unknownEnvelopeID = "unknown"

// Authenticator abstracts auth.Service for testability.
type Authenticator interface {
	Authenticate(ctx context.Context) (auth.Session, error)
}

// EnvelopeAPI defines the remote calls the orchestrator needs.
type EnvelopeAPI interface {
	ListEnvelopes(ctx context.Context, p esign.ListParams) (esign.EnvelopePage, error)
	ListDocuments(ctx context.Context, envelopeID string) ([]esign.RawObject, error)
	OpenDocument(ctx context.Context, envelopeID, documentID string) (*esign.DocumentStream, error)
}

// APIFactory builds the data client for an authenticated session.
type APIFactory func(sess auth.Session) EnvelopeAPI

// Request selects what a run downloads and where it writes.
type Request struct {
	OutDir   string
	FromDate string
	ToDate   string
	Status   string
	PageSize int
}

func (r Request) validate() error {
	if r.OutDir == "" {
		return fmt.Errorf("agreement: output directory required")
	}
	if r.FromDate == "" {
		return fmt.Errorf("agreement: from date required")
	}
	if r.PageSize < esign.MinPageSize || r.PageSize > esign.MaxPageSize {
		return fmt.Errorf("agreement: page size %d outside [%d, %d]", r.PageSize, esign.MinPageSize, esign.MaxPageSize)
	}
	return nil
}

// Service drives a download run: authenticate once, page through envelopes,
// and export each one in isolation.
type Service struct {
	auth        Authenticator
	newAPI      APIFactory
	logger      *log.Logger
	workers     int
	now         func() time.Time
	idGenerator func() string
}

func NewService(authn Authenticator, newAPI APIFactory) *Service {
	return &Service{
		auth:        authn,
		newAPI:      newAPI,
		logger:      log.New(os.Stderr, "[agreements] ", log.LstdFlags),
		workers:     1,
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithLogger(l *log.Logger) *Service {
	s.logger = l
	return s
}

// WithWorkers bounds how many documents of one envelope download at once.
func (s *Service) WithWorkers(n int) *Service {
	if n < 1 {
		n = 1
	}
	s.workers = n
	return s
}

// Download performs one run. It returns an error only when the run could not
// start: an invalid request, an unusable output directory, or failed
// authentication. Once authenticated, the run always completes and writes
// the index, recording per-envelope problems in the result instead.
func (s *Service) Download(ctx context.Context, req Request) (RunResult, error) {
	run := RunResult{
		RunID:     s.idGenerator(),
		StartedAt: s.now().UTC(),
	}
	if err := req.validate(); err != nil {
		return run, err
	}

	w, err := export.NewWriter(req.OutDir)
	if err != nil {
		return run, err
	}
	run.OutDir = w.Root()

	sess, err := s.auth.Authenticate(ctx)
	if err != nil {
		return run, err
	}
	s.logger.Printf("run %s: authenticated for account %s at %s", run.RunID, sess.Account.AccountID, sess.Account.BaseURI)

	api := s.newAPI(sess)
	s.paginate(ctx, api, w, req, &run)

	rows := make([]export.IndexRow, 0, len(run.Agreements))
	for _, a := range run.Agreements {
		rows = append(rows, a.indexRow())
	}
	indexPath, err := w.WriteIndex(rows)
	if err != nil {
		run.Failures = append(run.Failures, fmt.Sprintf("write index failed: %v", err))
	}
	run.IndexPath = indexPath

	run.FinishedAt = s.now().UTC()
	run.Status = DeriveStatus(run.Agreements, run.Failures)
	s.logger.Printf("run %s: %s, %d agreements, %d exported, %d failures",
		run.RunID, run.Status, len(run.Agreements), run.ExportedCount(), len(run.Failures))
	return run, nil
}

func (s *Service) paginate(ctx context.Context, api EnvelopeAPI, w *export.Writer, req Request, run *RunResult) {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			s.runFailure(run, fmt.Sprintf("run interrupted: %v", err))
			return
		}

		page, err := api.ListEnvelopes(ctx, esign.ListParams{
			FromDate:      req.FromDate,
			ToDate:        req.ToDate,
			Status:        req.Status,
			StartPosition: offset,
			Count:         req.PageSize,
		})
		if err != nil {
			s.runFailure(run, fmt.Sprintf("list envelopes at offset %d failed: %v", offset, err))
			return
		}
		if len(page.Envelopes) == 0 {
			return
		}
		s.logger.Printf("run %s: page at offset %d: %d envelopes (total %d)",
			run.RunID, offset, len(page.Envelopes), page.TotalSetSize.Value)

		for _, raw := range page.Envelopes {
			rec := s.processEnvelope(ctx, api, w, raw)
			run.Agreements = append(run.Agreements, rec)
			run.Failures = append(run.Failures, rec.Failures...)
		}

		next, done := nextOffset(offset, page)
		if done {
			return
		}
		offset = next
	}
}

// nextOffset advances past page. The reported result size is used when
// positive, else the number of envelopes returned, so the offset always
// grows; the run is done once the offset reaches the reported total.
func nextOffset(offset int, page esign.EnvelopePage) (int, bool) {
	count := len(page.Envelopes)
	next := offset + page.ResultSetSize.Or(count)
	total := page.TotalSetSize.Or(offset + count)
	return next, next >= total
}

func (s *Service) runFailure(run *RunResult, msg string) {
	run.Failures = append(run.Failures, msg)
	s.logger.Printf("run %s: %s", run.RunID, msg)
}

// processEnvelope never returns an error: whatever happens is recorded on the
// returned record, which keeps what was learned before the failure.
func (s *Service) processEnvelope(ctx context.Context, api EnvelopeAPI, w *export.Writer, raw esign.RawObject) ExportedAgreement {
	id := EnvelopeID(raw)
	if id == "" {
		id = unknownEnvelopeID
	}
	status, _ := raw.String("status")
	rec := ExportedAgreement{
		Agreement: Agreement{
			Envelope:  EnvelopeSummary{EnvelopeID: id, Status: status},
			Documents: []DocumentInfo{},
		},
	}
	if id != unknownEnvelopeID {
		rec.Paths = w.PathsFor(id)
	}

	fail := func(err error) ExportedAgreement {
		msg := fmt.Sprintf("envelope %s failed: %v", id, err)
		rec.Failures = append(rec.Failures, msg)
		s.logger.Print(msg)
		return rec
	}

	summary, err := NormalizeEnvelope(raw)
	if err != nil {
		return fail(err)
	}
	rec.Agreement.Envelope = summary
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	paths, err := w.PrepareAgreement(id)
	if err != nil {
		return fail(err)
	}
	rec.Paths = paths

	rawDocs, err := api.ListDocuments(ctx, id)
	if err != nil {
		return fail(err)
	}
	rec.Agreement.Documents = NormalizeDocuments(rawDocs)

	if err := w.WriteJSON(paths.AgreementJSON, rec.Agreement); err != nil {
		return fail(err)
	}
	rec.Exported = true

	for i, res := range s.downloadAll(ctx, api, w, id, rec.Agreement.Documents, paths.DocumentsDir) {
		if res.err != nil {
			msg := fmt.Sprintf("envelope %s document %s failed: %v", id, rec.Agreement.Documents[i].DocumentID, res.err)
			rec.Failures = append(rec.Failures, msg)
			s.logger.Print(msg)
			continue
		}
		rec.DownloadedFiles = append(rec.DownloadedFiles, res.path)
	}
	return rec
}

type downloadResult struct {
	path string
	err  error
}

// downloadAll fetches every document independently. Results are indexed by
// document position so the record stays in listing order.
func (s *Service) downloadAll(ctx context.Context, api EnvelopeAPI, w *export.Writer, envelopeID string, docs []DocumentInfo, dir string) []downloadResult {
	results := make([]downloadResult, len(docs))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, doc := range docs {
		g.Go(func() error {
			path, err := s.downloadDocument(ctx, api, w, envelopeID, doc, dir)
			results[i] = downloadResult{path: path, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) downloadDocument(ctx context.Context, api EnvelopeAPI, w *export.Writer, envelopeID string, doc DocumentInfo, dir string) (string, error) {
	if strings.ContainsAny(doc.DocumentID, `/\`) || doc.DocumentID == ".." {
		return "", fmt.Errorf("agreement: unsafe document id %q", doc.DocumentID)
	}

	stream, err := api.OpenDocument(ctx, envelopeID, doc.DocumentID)
	if err != nil {
		return "", err
	}
	defer stream.Body.Close()

	path := filepath.Join(dir, export.DocumentFilename(doc.DocumentID, doc.Name, stream.ContentType()))
	if _, err := w.WriteDocument(path, stream.Body); err != nil {
		return "", err
	}
	return path, nil
}
