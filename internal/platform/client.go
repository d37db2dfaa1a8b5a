// Package platform is the outbound port to the delivery platform's
// provisioning API, which backs the automatic account-creation and
// restaurant-creation steps.
package platform

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

const defaultProvisionTimeout = 30 * time.Second

// Client provisions the platform-side resources a job needs before the
// operator-driven steps can begin.
type Client interface {
	CreateAccount(ctx context.Context, job *domain.Job) error
	CreateRestaurant(ctx context.Context, job *domain.Job) error
}

type accountRequest struct {
	JobID          string `json:"jobId"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	RestaurantName string `json:"restaurantName,omitempty"`
}

type restaurantRequest struct {
	JobID        string `json:"jobId"`
	RestaurantID string `json:"restaurantId"`
	Name         string `json:"name,omitempty"`
	Address      string `json:"address,omitempty"`
}

type provisionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HTTPClient calls the platform provisioning API over HTTP.
type HTTPClient struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPClient(endpoint string) (*HTTPClient, error) {
	client := resty.New()
	client.SetTimeout(defaultProvisionTimeout)
	client.SetRetryCount(0)

	return NewHTTPClientWithClient(endpoint, client)
}

func NewHTTPClientWithClient(endpoint string, client *resty.Client) (*HTTPClient, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("platform endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid platform endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProvisionTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPClient{
		client:   client,
		endpoint: strings.TrimRight(trimmedEndpoint, "/"),
	}, nil
}

func (c *HTTPClient) CreateAccount(ctx context.Context, job *domain.Job) error {
	if err := c.validateJob(job); err != nil {
		return err
	}

	return c.post(ctx, "/accounts", accountRequest{
		JobID:          job.ID,
		Email:          job.ContactEmail,
		Phone:          job.ContactPhone,
		RestaurantName: job.RestaurantName,
	})
}

func (c *HTTPClient) CreateRestaurant(ctx context.Context, job *domain.Job) error {
	if err := c.validateJob(job); err != nil {
		return err
	}
	if strings.TrimSpace(job.RestaurantID) == "" {
		return fmt.Errorf("%w: restaurant id is required", domain.ErrValidation)
	}

	return c.post(ctx, "/restaurants", restaurantRequest{
		JobID:        job.ID,
		RestaurantID: job.RestaurantID,
		Name:         job.RestaurantName,
		Address:      job.Address,
	})
}

func (c *HTTPClient) validateJob(job *domain.Job) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("platform client is not initialized")
	}
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	var body provisionResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&body).
		Post(c.endpoint + path)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: platform request failed: %v", domain.ErrExternalService, err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: platform returned status %d", domain.ErrExternalService, statusCode)
	}
	if !body.Success {
		msg := strings.TrimSpace(body.Error)
		if msg == "" {
			msg = "platform reported failure"
		}
		return fmt.Errorf("%w: %s", domain.ErrExternalService, msg)
	}
	return nil
}
