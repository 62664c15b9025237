package actors

import (
	"context"
	"io"
	"log"
	"time"

	"agreementexport/agreement"
	"agreementexport/auth"
	"agreementexport/esign"
	"agreementexport/test/infra"
	"agreementexport/transport"
)

// FastRetry keeps the default attempt count but waits only milliseconds.
func FastRetry() esign.RetryPolicy {
	p := esign.DefaultRetryPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.Jitter = time.Millisecond
	return p
}

// Exporter wires the production stack against the fake server and performs
// one run into outDir.
func Exporter(ctx context.Context, s *infra.ESignServer, keyPEM []byte, outDir string, workers int) (agreement.RunResult, error) {
	httpClient, err := transport.NewHTTPClient(10 * time.Second)
	if err != nil {
		return agreement.RunResult{}, err
	}
	authn := auth.NewService(httpClient, infra.Identity(s, keyPEM))
	policy := FastRetry()
	newAPI := func(sess auth.Session) agreement.EnvelopeAPI {
		account := esign.AccountContext{BaseURI: sess.Account.BaseURI, AccountID: sess.Account.AccountID}
		return esign.NewClient(httpClient, account, sess.Token.AccessToken, esign.WithRetryPolicy(policy))
	}

	svc := agreement.NewService(authn, newAPI).
		WithLogger(log.New(io.Discard, "", 0)).
		WithWorkers(workers)
	return svc.Download(ctx, agreement.Request{
		OutDir:   outDir,
		FromDate: "2024-01-01",
		Status:   "completed",
		PageSize: 3,
	})
}

// Rerunner runs Exporter n times against the same outDir.
func Rerunner(ctx context.Context, s *infra.ESignServer, keyPEM []byte, outDir string, n int) ([]agreement.RunResult, error) {
	var out []agreement.RunResult
	for i := 0; i < n; i++ {
		res, err := Exporter(ctx, s, keyPEM, outDir, 1)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}
