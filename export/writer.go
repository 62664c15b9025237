package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	AgreementFile = "agreement.json"
	DocumentsDir  = "documents"
	IndexFile     = "index.json"

	dirPerm  = 0o755
	filePerm = 0o644
	copyBuf  = 64 << 10
)

// Paths locates one agreement's files under the output root.
type Paths struct {
	AgreementDir  string
	DocumentsDir  string
	AgreementJSON string
}

// IndexRow summarizes one agreement in index.json.
type IndexRow struct {
	EnvelopeID      string   `json:"envelope_id"`
	Status          string   `json:"status"`
	Subject         *string  `json:"subject"`
	AgreementDir    string   `json:"agreement_dir"`
	AgreementJSON   string   `json:"agreement_json"`
	DocumentsDir    string   `json:"documents_dir"`
	DownloadedFiles []string `json:"downloaded_files"`
	Failures        []string `json:"failures"`
}

// Writer owns the on-disk layout below a single output root.
type Writer struct {
	root string
}

// NewWriter resolves root to an absolute path and creates it.
func NewWriter(root string) (*Writer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("export: resolve output dir: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("export: create output dir: %w", err)
	}
	return &Writer{root: abs}, nil
}

// Root returns the absolute output directory.
func (w *Writer) Root() string {
	return w.root
}

// PathsFor computes the layout of envelopeID without touching the filesystem.
func (w *Writer) PathsFor(envelopeID string) Paths {
	dir := filepath.Join(w.root, envelopeID)
	return Paths{
		AgreementDir:  dir,
		DocumentsDir:  filepath.Join(dir, DocumentsDir),
		AgreementJSON: filepath.Join(dir, AgreementFile),
	}
}

// PrepareAgreement creates the agreement and documents directories. Calling
// it again for the same id is a no-op and leaves existing files alone.
func (w *Writer) PrepareAgreement(envelopeID string) (Paths, error) {
	if err := checkID(envelopeID); err != nil {
		return Paths{}, err
	}
	p := w.PathsFor(envelopeID)
	if err := os.MkdirAll(p.DocumentsDir, dirPerm); err != nil {
		return Paths{}, fmt.Errorf("export: create agreement dirs: %w", err)
	}
	return p, nil
}

// WriteJSON writes v as indented JSON to path, replacing prior content.
func (w *Writer) WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("export: encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), filePerm); err != nil {
		return fmt.Errorf("export: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteDocument streams src into path, creating parent directories and
// truncating any existing file. A failed copy removes the partial file.
func (w *Writer) WriteDocument(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return 0, fmt.Errorf("export: create document dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("export: open document: %w", err)
	}

	n, err := io.CopyBuffer(f, src, make([]byte, copyBuf))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return n, fmt.Errorf("export: write document %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// WriteIndex writes index.json at the output root and returns its path.
func (w *Writer) WriteIndex(rows []IndexRow) (string, error) {
	if rows == nil {
		rows = []IndexRow{}
	}
	for i := range rows {
		if rows[i].DownloadedFiles == nil {
			rows[i].DownloadedFiles = []string{}
		}
		if rows[i].Failures == nil {
			rows[i].Failures = []string{}
		}
	}
	path := filepath.Join(w.root, IndexFile)
	if err := w.WriteJSON(path, rows); err != nil {
		return "", err
	}
	return path, nil
}

// checkID rejects ids that would escape or collapse the per-envelope directory.
func checkID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("export: invalid envelope id %q", id)
	case filepath.Base(id) != id:
		return errors.New("export: envelope id contains a path separator")
	}
	return nil
}
