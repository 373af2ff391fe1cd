// Package publish delivers assembled reports to the rule engine.
package publish

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/faults"
	"buildreport-agent/src/report"
	"buildreport-agent/src/transport"
)

// Publisher posts reports for one project token.
type Publisher struct {
	baseURL string
	token   string
	doer    transport.Doer
}

// NewPublisher creates a publisher for the rule engine at baseURL.
func NewPublisher(baseURL, token string, doer transport.Doer) *Publisher {
	return &Publisher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		doer:    doer,
	}
}

// Endpoint returns the build endpoint for the configured token.
func (p *Publisher) Endpoint() string {
	return p.baseURL + "/projects/" + url.PathEscape(p.token) + "/build"
}

// Publish serializes r and posts it. Any non-2xx answer is an error.
func (p *Publisher) Publish(ctx context.Context, r *contracts.Report) error {
	body, err := report.Marshal(r)
	if err != nil {
		return err
	}

	resp, err := p.doer.Post(ctx, p.Endpoint(), "application/json", body, nil)
	if err != nil {
		return fmt.Errorf("post report: %v: %w", err, faults.ErrTransportFailure)
	}

	switch {
	case resp.OK():
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("post report: status %d: %w", resp.StatusCode, faults.ErrTokenNotFound)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("post report: status %d: %w", resp.StatusCode, faults.ErrDatabaseOffline)
	default:
		return fmt.Errorf("post report: status %d: %s: %w", resp.StatusCode, string(resp.Body), faults.ErrUnexpectedServerError)
	}
}
