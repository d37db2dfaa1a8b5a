// Package registry is the outbound port to the external company registry.
package registry

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

const defaultSearchTimeout = 10 * time.Second

// SearchParams are the operator-editable inputs to a registry search.
type SearchParams struct {
	Name   string `json:"name"`
	Street string `json:"street"`
	City   string `json:"city"`
}

func (p SearchParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: search name is required", domain.ErrValidation)
	}
	return nil
}

// Client searches the external company registry.
type Client interface {
	Search(ctx context.Context, params SearchParams) ([]domain.CompanyCandidate, error)
}

type searchResponse struct {
	Results []candidateItem `json:"results"`
}

type candidateItem struct {
	CompanyNumber string `json:"companyNumber"`
	CompanyName   string `json:"companyName"`
	Status        string `json:"status"`
	MatchSource   string `json:"matchSource"`
}

// HTTPClient calls a registry search endpoint over HTTP.
type HTTPClient struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPClient(endpoint string) (*HTTPClient, error) {
	client := resty.New()
	client.SetTimeout(defaultSearchTimeout)
	client.SetRetryCount(0)

	return NewHTTPClientWithClient(endpoint, client)
}

func NewHTTPClientWithClient(endpoint string, client *resty.Client) (*HTTPClient, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("registry endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid registry endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSearchTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPClient{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (c *HTTPClient) Search(ctx context.Context, params SearchParams) ([]domain.CompanyCandidate, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("registry client is not initialized")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var body searchResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"name":   strings.TrimSpace(params.Name),
			"street": strings.TrimSpace(params.Street),
			"city":   strings.TrimSpace(params.City),
		}).
		SetResult(&body).
		Get(c.endpoint)
	if err != nil {
		return nil, &RegistryError{
			Message:   "registry request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &RegistryError{
			Message:   "registry returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &RegistryError{
			StatusCode: statusCode,
			Message:    registryErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	candidates := make([]domain.CompanyCandidate, 0, len(body.Results))
	for _, item := range body.Results {
		candidates = append(candidates, domain.CompanyCandidate{
			CompanyNumber: item.CompanyNumber,
			CompanyName:   item.CompanyName,
			Status:        item.Status,
			MatchSource:   item.MatchSource,
		})
	}
	return candidates, nil
}
