package setup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
)

func testConfig() *domain.SetupConfiguration {
	return &domain.SetupConfiguration{
		Account: domain.AccountConfig{Email: "a@example.com", Password: "Secret1!"},
	}
}

func TestHTTPRunnerRunSubStepSuccess(t *testing.T) {
	t.Parallel()

	var gotRequest runRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	runner, err := NewHTTPRunner(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPRunner() error = %v", err)
	}

	if err := runner.RunSubStep(context.Background(), "job-1", "create_account", testConfig()); err != nil {
		t.Fatalf("RunSubStep() error = %v", err)
	}

	if gotRequest.JobID != "job-1" {
		t.Fatalf("jobId = %q, want job-1", gotRequest.JobID)
	}
	if gotRequest.SubStep != "create_account" {
		t.Fatalf("subStep = %q, want create_account", gotRequest.SubStep)
	}
	if gotRequest.Configuration == nil || gotRequest.Configuration.Account.Email != "a@example.com" {
		t.Fatalf("configuration = %+v", gotRequest.Configuration)
	}
}

func TestHTTPRunnerRunSubStepReportedFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"error":"menu import rejected"}`))
	}))
	defer server.Close()

	runner, err := NewHTTPRunner(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPRunner() error = %v", err)
	}

	err = runner.RunSubStep(context.Background(), "job-1", "upload_menu", testConfig())
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("RunSubStep() error = %v, want ErrExternalService", err)
	}
}

func TestHTTPRunnerRunSubStepServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	runner, err := NewHTTPRunner(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPRunner() error = %v", err)
	}

	err = runner.RunSubStep(context.Background(), "job-1", "publish", testConfig())
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("RunSubStep() error = %v, want ErrExternalService", err)
	}
}

func TestHTTPRunnerRunSubStepValidation(t *testing.T) {
	t.Parallel()

	runner, err := NewHTTPRunner("http://localhost:0")
	if err != nil {
		t.Fatalf("NewHTTPRunner() error = %v", err)
	}

	if err := runner.RunSubStep(context.Background(), "", "create_account", testConfig()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation for empty job id", err)
	}
	if err := runner.RunSubStep(context.Background(), "job-1", "", testConfig()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation for empty key", err)
	}
	if err := runner.RunSubStep(context.Background(), "job-1", "create_account", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation for unconfigured job", err)
	}
}

func TestNewHTTPRunnerRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPRunner(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewHTTPRunner("not a url"); err == nil {
		t.Fatal("expected error for malformed endpoint")
	}
}
