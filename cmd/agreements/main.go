package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agreementexport/agreement"
	"agreementexport/auth"
	"agreementexport/config"
	"agreementexport/esign"
	"agreementexport/transport"
)

const (
	ExitSuccess     = 0
	ExitFailures    = 1
	ExitInvalidArgs = 2

	maxPrintedFailures = 50
)

// exitError carries the process exit code chosen for a command failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalid(err error) error { return &exitError{code: ExitInvalidArgs, err: err} }

type downloadFlags struct {
	fromDate   string
	toDate     string
	status     string
	out        string
	pageSize   int
	configPath string
	workers    int
}

type summary struct {
	RunID      string           `json:"run_id"`
	Status     agreement.Status `json:"status"`
	OutDir     string           `json:"out_dir"`
	Agreements int              `json:"agreements"`
	Exported   int              `json:"exported"`
	Failures   int              `json:"failures"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := ExitSuccess
	root := newRootCmd(stdout, stderr, &code)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		// cobra's own flag and argument errors
		return ExitInvalidArgs
	}
	return code
}

func newRootCmd(stdout, stderr io.Writer, code *int) *cobra.Command {
	root := &cobra.Command{
		Use:           "agreements",
		Short:         "Export signed agreements and their documents",
		Long:          `agreements authenticates with a signed assertion, lists envelopes changed in a date range, and writes each envelope's metadata and documents to a local directory tree with an index.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDownloadCmd(stdout, stderr, code))
	return root
}

func newDownloadCmd(stdout, stderr io.Writer, code *int) *cobra.Command {
	var f downloadFlags
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download agreements whose status changed in a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := runDownload(cmd.Context(), f, stdout, stderr)
			*code = c
			return err
		},
	}

	cmd.Flags().StringVar(&f.fromDate, "from-date", "", "start of the status-change window, RFC 3339 or YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&f.toDate, "to-date", "", "end of the status-change window, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&f.status, "status", "completed", "envelope status filter")
	cmd.Flags().StringVar(&f.out, "out", "./out", "output directory")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 100, "envelopes per listing page (1-1000)")
	cmd.Flags().StringVar(&f.configPath, "config", "", "optional YAML config file; DS_ environment variables override it")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent document downloads per envelope (overrides DS_WORKERS)")
	_ = cmd.MarkFlagRequired("from-date")
	return cmd
}

func (f downloadFlags) validate() error {
	if err := checkDate("from-date", f.fromDate); err != nil {
		return err
	}
	if f.toDate != "" {
		if err := checkDate("to-date", f.toDate); err != nil {
			return err
		}
	}
	if f.pageSize < esign.MinPageSize || f.pageSize > esign.MaxPageSize {
		return fmt.Errorf("--page-size must be between %d and %d, got %d", esign.MinPageSize, esign.MaxPageSize, f.pageSize)
	}
	if f.workers < 0 {
		return fmt.Errorf("--workers must not be negative")
	}
	if f.status == "" {
		return fmt.Errorf("--status must not be empty")
	}
	return nil
}

func checkDate(flag, v string) error {
	if _, err := time.Parse(time.RFC3339, v); err == nil {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, v); err == nil {
		return nil
	}
	return fmt.Errorf("--%s: %q is not an RFC 3339 timestamp or YYYY-MM-DD date", flag, v)
}

func runDownload(ctx context.Context, f downloadFlags, stdout, stderr io.Writer) (int, error) {
	if err := f.validate(); err != nil {
		return ExitInvalidArgs, invalid(err)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return ExitInvalidArgs, invalid(err)
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	keyPEM, err := cfg.PrivateKeyPEM()
	if err != nil {
		return ExitInvalidArgs, invalid(err)
	}

	httpClient, err := transport.NewHTTPClient(cfg.Timeout())
	if err != nil {
		return ExitInvalidArgs, invalid(err)
	}

	authn := auth.NewService(httpClient, auth.Identity{
		IntegrationKey: cfg.IntegrationKey,
		UserID:         cfg.UserID,
		PrivateKeyPEM:  keyPEM,
		Scopes:         cfg.Scopes,
		AuthServer:     cfg.AuthServer,
	})
	policy := retryPolicy(cfg.Retry)
	newAPI := func(sess auth.Session) agreement.EnvelopeAPI {
		account := esign.AccountContext{BaseURI: sess.Account.BaseURI, AccountID: sess.Account.AccountID}
		return esign.NewClient(httpClient, account, sess.Token.AccessToken, esign.WithRetryPolicy(policy))
	}

	svc := agreement.NewService(authn, newAPI).
		WithLogger(log.New(stderr, "[agreements] ", log.LstdFlags)).
		WithWorkers(cfg.Workers)

	res, err := svc.Download(ctx, agreement.Request{
		OutDir:   f.out,
		FromDate: f.fromDate,
		ToDate:   f.toDate,
		Status:   f.status,
		PageSize: f.pageSize,
	})
	if err != nil {
		return ExitFailures, &exitError{code: ExitFailures, err: err}
	}

	if err := printSummary(stdout, res); err != nil {
		return ExitFailures, &exitError{code: ExitFailures, err: err}
	}
	if len(res.Failures) > 0 {
		printFailures(stderr, res.Failures)
	}
	return exitCode(res), nil
}

func retryPolicy(rc config.RetryConfig) esign.RetryPolicy {
	p := esign.DefaultRetryPolicy()
	p.MaxAttempts = rc.Attempts
	p.BaseDelay = rc.Backoff
	p.MaxDelay = rc.MaxBackoff
	return p
}

// exitCode is non-zero only when failures were recorded and the run is not ok.
func exitCode(res agreement.RunResult) int {
	if len(res.Failures) > 0 && res.Status != agreement.StatusOK {
		return ExitFailures
	}
	return ExitSuccess
}

func printSummary(w io.Writer, res agreement.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary{
		RunID:      res.RunID,
		Status:     res.Status,
		OutDir:     res.OutDir,
		Agreements: len(res.Agreements),
		Exported:   res.ExportedCount(),
		Failures:   len(res.Failures),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	})
}

func printFailures(w io.Writer, failures []string) {
	fmt.Fprintln(w, "Failures:")
	for i, msg := range failures {
		if i == maxPrintedFailures {
			fmt.Fprintf(w, "... and %d more\n", len(failures)-maxPrintedFailures)
			return
		}
		fmt.Fprintf(w, "- %s\n", msg)
	}
}
