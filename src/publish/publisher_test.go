package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"buildreport-agent/src/contracts"
	"buildreport-agent/src/faults"
	"buildreport-agent/src/transport"
)

func TestPublish_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"ok", http.StatusOK, nil},
		{"created", http.StatusCreated, nil},
		{"token not found", http.StatusNotFound, faults.ErrTokenNotFound},
		{"database offline", http.StatusServiceUnavailable, faults.ErrDatabaseOffline},
		{"internal error", http.StatusInternalServerError, faults.ErrUnexpectedServerError},
		{"bad request", http.StatusBadRequest, faults.ErrUnexpectedServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewPublisher(server.URL, "project-token-1", transport.NewClient(5*time.Second)).
				Publish(context.Background(), &contracts.Report{Result: "SUCCESS"})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Publish() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublish_Request(t *testing.T) {
	var gotPath, gotContentType string
	var gotReport contracts.Report

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReport); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPublisher(server.URL+"/", "tok en/with?chars", transport.NewClient(0))
	report := &contracts.Report{Result: "FAILURE", Timestamp: 1463742000000, Author: "ada"}
	if err := p.Publish(context.Background(), report); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if gotPath != "/projects/tok%20en%2Fwith%3Fchars/build" {
		t.Errorf("path = %s", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %s", gotContentType)
	}
	if gotReport.Result != "FAILURE" || gotReport.Timestamp != 1463742000000 || gotReport.Author != "ada" {
		t.Errorf("unexpected report body: %+v", gotReport)
	}
}

func TestPublish_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewPublisher(url, "project-token-1", transport.NewClient(time.Second)).
		Publish(context.Background(), &contracts.Report{})
	if !errors.Is(err, faults.ErrTransportFailure) {
		t.Errorf("Publish() error = %v, want ErrTransportFailure", err)
	}
}
