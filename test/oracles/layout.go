package oracles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agreementexport/agreement"
	"agreementexport/export"
)

// Oracle checks one invariant of a finished run against what is on disk.
type Oracle struct {
	Name  string
	Check func(res agreement.RunResult) error
}

func All() []Oracle {
	return []Oracle{
		{Name: "O1_index_matches_records", Check: indexMatchesRecords},
		{Name: "O2_exported_iff_metadata", Check: exportedIffMetadata},
		{Name: "O3_documents_accounted_for", Check: documentsAccountedFor},
		{Name: "O4_failures_flattened", Check: failuresFlattened},
		{Name: "O5_status_derived", Check: statusDerived},
		{Name: "O6_json_formatting", Check: jsonFormatting},
	}
}

// Run executes every oracle and returns the name and error of the first failure.
func Run(res agreement.RunResult) (string, error) {
	for _, o := range All() {
		if err := o.Check(res); err != nil {
			return o.Name, err
		}
	}
	return "", nil
}

func indexMatchesRecords(res agreement.RunResult) error {
	var rows []export.IndexRow
	if err := readJSON(res.IndexPath, &rows); err != nil {
		return err
	}
	if len(rows) != len(res.Agreements) {
		return fmt.Errorf("index has %d rows, run has %d agreements", len(rows), len(res.Agreements))
	}
	for i, row := range rows {
		if want := res.Agreements[i].Agreement.Envelope.EnvelopeID; row.EnvelopeID != want {
			return fmt.Errorf("row %d: envelope %q, want %q", i, row.EnvelopeID, want)
		}
		if len(row.Failures) != len(res.Agreements[i].Failures) {
			return fmt.Errorf("row %d: %d failures, record has %d", i, len(row.Failures), len(res.Agreements[i].Failures))
		}
	}
	return nil
}

func exportedIffMetadata(res agreement.RunResult) error {
	for _, a := range res.Agreements {
		if a.Paths.AgreementJSON == "" {
			if a.Exported {
				return fmt.Errorf("%s exported without paths", a.Agreement.Envelope.EnvelopeID)
			}
			continue
		}
		_, err := os.Stat(a.Paths.AgreementJSON)
		switch {
		case a.Exported && err != nil:
			return fmt.Errorf("%s exported but agreement.json missing: %w", a.Agreement.Envelope.EnvelopeID, err)
		case !a.Exported && err == nil:
			return fmt.Errorf("%s not exported but agreement.json exists", a.Agreement.Envelope.EnvelopeID)
		}
	}
	return nil
}

// documentsAccountedFor requires every file in a documents dir to be a reported
// download, and every reported download to exist there.
func documentsAccountedFor(res agreement.RunResult) error {
	for _, a := range res.Agreements {
		if a.Paths.DocumentsDir == "" {
			continue
		}
		reported := map[string]bool{}
		for _, p := range a.DownloadedFiles {
			if filepath.Dir(p) != a.Paths.DocumentsDir {
				return fmt.Errorf("%s: %s outside %s", a.Agreement.Envelope.EnvelopeID, p, a.Paths.DocumentsDir)
			}
			if _, err := os.Stat(p); err != nil {
				return fmt.Errorf("%s: reported file missing: %w", a.Agreement.Envelope.EnvelopeID, err)
			}
			reported[p] = true
		}
		entries, err := os.ReadDir(a.Paths.DocumentsDir)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		for _, e := range entries {
			if p := filepath.Join(a.Paths.DocumentsDir, e.Name()); !reported[p] {
				return fmt.Errorf("%s: unreported file %s", a.Agreement.Envelope.EnvelopeID, e.Name())
			}
		}
	}
	return nil
}

// failuresFlattened requires every record failure to appear in the run list
// in record order. Run-level failures may sit between them.
func failuresFlattened(res agreement.RunResult) error {
	n := 0
	for _, a := range res.Agreements {
		for _, msg := range a.Failures {
			for n < len(res.Failures) && res.Failures[n] != msg {
				n++
			}
			if n == len(res.Failures) {
				return fmt.Errorf("failure %q missing from run failures", msg)
			}
			n++
		}
	}
	return nil
}

func statusDerived(res agreement.RunResult) error {
	if want := agreement.DeriveStatus(res.Agreements, res.Failures); res.Status != want {
		return fmt.Errorf("status %s, want %s", res.Status, want)
	}
	return nil
}

func jsonFormatting(res agreement.RunResult) error {
	paths := []string{res.IndexPath}
	for _, a := range res.Agreements {
		if a.Exported {
			paths = append(paths, a.Paths.AgreementJSON)
		}
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if !bytes.HasSuffix(data, []byte("\n")) {
			return fmt.Errorf("%s: no trailing newline", p)
		}
		if len(data) > 3 && !strings.HasPrefix(string(data[2:]), "  ") && !bytes.Equal(bytes.TrimSpace(data), []byte("[]")) {
			return fmt.Errorf("%s: not indented with two spaces", p)
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
