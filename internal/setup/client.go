// Package setup is the outbound port to the automated-setup execution
// service. Each sub-step is executed as its own call; the service never
// shares a transaction across jobs.
package setup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
)

const defaultExecuteTimeout = 30 * time.Second

// Runner executes automated-setup sub-steps for one job.
type Runner interface {
	RunSubStep(ctx context.Context, jobID string, key string, config *domain.SetupConfiguration) error
}

type runRequest struct {
	JobID         string                     `json:"jobId"`
	SubStep       string                     `json:"subStep"`
	Configuration *domain.SetupConfiguration `json:"configuration"`
}

type runResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HTTPRunner calls the setup execution service over HTTP.
type HTTPRunner struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPRunner(endpoint string) (*HTTPRunner, error) {
	client := resty.New()
	client.SetTimeout(defaultExecuteTimeout)
	client.SetRetryCount(0)

	return NewHTTPRunnerWithClient(endpoint, client)
}

func NewHTTPRunnerWithClient(endpoint string, client *resty.Client) (*HTTPRunner, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("setup endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid setup endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultExecuteTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPRunner{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (r *HTTPRunner) RunSubStep(ctx context.Context, jobID string, key string, config *domain.SetupConfiguration) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("setup runner is not initialized")
	}
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: sub-step key is required", domain.ErrValidation)
	}
	if !config.Configured() {
		return fmt.Errorf("%w: configuration has no account password", domain.ErrValidation)
	}

	var body runResponse
	response, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(runRequest{JobID: jobID, SubStep: key, Configuration: config}).
		SetResult(&body).
		Post(r.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: setup request failed: %v", domain.ErrExternalService, err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: setup service returned status %d", domain.ErrExternalService, statusCode)
	}
	if !body.Success {
		msg := strings.TrimSpace(body.Error)
		if msg == "" {
			msg = "setup service reported failure"
		}
		return fmt.Errorf("%w: %s", domain.ErrExternalService, msg)
	}
	return nil
}
