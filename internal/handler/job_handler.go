package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/registry"
	"github.com/kursadbilgin/onboard-engine/internal/service"
)

type JobService interface {
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
	SuggestedSearchParams(ctx context.Context, jobID string) (registry.SearchParams, error)
	SearchCompany(ctx context.Context, jobID string, params registry.SearchParams) (*domain.Job, error)
	SelectCompany(ctx context.Context, jobID, companyNumber string) (*domain.Job, error)
	ConfirmCompany(ctx context.Context, jobID string) (*domain.Job, error)
	ConfirmAllCompanies(ctx context.Context, jobIDs []string) ([]*domain.Job, error)
	SkipWithManualEntry(ctx context.Context, jobID string, details *domain.ManualEntryDetails) (*domain.Job, error)
	InitializeConfig(ctx context.Context, jobID string) (*domain.Job, error)
	SaveConfig(ctx context.Context, jobID string, config *domain.SetupConfiguration) (*domain.Job, error)
	ConfigChanged(ctx context.Context, jobID string, draft *domain.SetupConfiguration) (bool, error)
	CloneConfig(ctx context.Context, sourceJobID string, targetJobIDs []string) ([]*domain.Job, error)
	ExecuteSetup(ctx context.Context, jobIDs []string) ([]service.ExecuteResult, error)
	SetSubStepStatus(ctx context.Context, jobID, key string, status domain.SubStepStatus) (*domain.Job, error)
	ResetSubStep(ctx context.Context, jobID, key string, cascade bool) (*domain.Job, error)
	BlockingDependencies(ctx context.Context, jobID, key string) ([]string, error)
}

type JobHandler struct {
	service JobService
}

func NewJobHandler(service JobService) (*JobHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("job service is required")
	}
	return &JobHandler{service: service}, nil
}

func RegisterJobRoutes(router fiber.Router, service JobService) error {
	h, err := NewJobHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	// Bulk routes are registered before the :id routes so the static
	// segments win the match.
	v1.Post("/jobs/company/confirm", h.ConfirmAllCompanies)
	v1.Post("/jobs/execute", h.ExecuteSetup)
	v1.Get("/jobs/:id", h.GetJob)
	v1.Get("/jobs/:id/company/suggestion", h.GetSearchSuggestion)
	v1.Post("/jobs/:id/company/search", h.SearchCompany)
	v1.Post("/jobs/:id/company/select", h.SelectCompany)
	v1.Post("/jobs/:id/company/confirm", h.ConfirmCompany)
	v1.Post("/jobs/:id/company/skip", h.SkipWithManualEntry)
	v1.Post("/jobs/:id/config", h.InitializeConfig)
	v1.Put("/jobs/:id/config", h.SaveConfig)
	v1.Post("/jobs/:id/config/diff", h.DiffConfig)
	v1.Post("/jobs/:id/config/clone", h.CloneConfig)
	v1.Put("/jobs/:id/substeps/:key", h.SetSubStepStatus)
	v1.Post("/jobs/:id/substeps/:key/reset", h.ResetSubStep)
	v1.Get("/jobs/:id/substeps/:key/blocking", h.GetBlockingDependencies)

	return nil
}

type searchCompanyRequest struct {
	Name   string `json:"name"`
	Street string `json:"street"`
	City   string `json:"city"`
}

type selectCompanyRequest struct {
	CompanyNumber string `json:"companyNumber"`
}

type confirmAllRequest struct {
	JobIDs []string `json:"jobIds"`
}

type cloneConfigRequest struct {
	TargetJobIDs []string `json:"targetJobIds"`
}

type executeSetupRequest struct {
	JobIDs []string `json:"jobIds"`
}

type setSubStepStatusRequest struct {
	Status string `json:"status"`
}

type resetSubStepRequest struct {
	Cascade bool `json:"cascade"`
}

type jobResponse struct {
	ID              string                           `json:"id"`
	BatchID         string                           `json:"batchId"`
	RestaurantID    string                           `json:"restaurantId"`
	RestaurantName  string                           `json:"restaurantName,omitempty"`
	Address         string                           `json:"address,omitempty"`
	ContactEmail    string                           `json:"contactEmail,omitempty"`
	ContactPhone    string                           `json:"contactPhone,omitempty"`
	MenuIDs         []string                         `json:"menuIds,omitempty"`
	Status          string                           `json:"status"`
	CurrentStep     int                              `json:"currentStep"`
	Steps           []domain.StepRecord              `json:"steps"`
	Candidates      []domain.CompanyCandidate        `json:"candidates,omitempty"`
	SelectedCompany *string                          `json:"selectedCompany,omitempty"`
	ManualEntry     *domain.ManualEntryDetails       `json:"manualEntry,omitempty"`
	SubSteps        map[string]*domain.SubStepState  `json:"subSteps,omitempty"`
	Config          *domain.SetupConfiguration       `json:"config,omitempty"`
	CreatedAt       time.Time                        `json:"createdAt"`
	UpdatedAt       time.Time                        `json:"updatedAt"`
}

type executeSetupResponse struct {
	Results []executeResultItem `json:"results"`
}

type executeResultItem struct {
	JobID string `json:"jobId"`
	Error string `json:"error,omitempty"`
}

type blockingDependenciesResponse struct {
	Key      string   `json:"key"`
	Blocking []string `json:"blocking"`
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) GetSearchSuggestion(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	params, err := h.service.SuggestedSearchParams(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(params)
}

func (h *JobHandler) SearchCompany(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req searchCompanyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job, err := h.service.SearchCompany(c.Context(), id, registry.SearchParams{
		Name:   strings.TrimSpace(req.Name),
		Street: strings.TrimSpace(req.Street),
		City:   strings.TrimSpace(req.City),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) SelectCompany(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req selectCompanyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job, err := h.service.SelectCompany(c.Context(), id, req.CompanyNumber)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) ConfirmCompany(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.ConfirmCompany(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) ConfirmAllCompanies(c *fiber.Ctx) error {
	var req confirmAllRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	jobs, err := h.service.ConfirmAllCompanies(c.Context(), req.JobIDs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"jobs": toJobResponses(jobs),
	})
}

func (h *JobHandler) SkipWithManualEntry(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var details domain.ManualEntryDetails
	if err := c.BodyParser(&details); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job, err := h.service.SkipWithManualEntry(c.Context(), id, &details)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) InitializeConfig(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.InitializeConfig(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) SaveConfig(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var config domain.SetupConfiguration
	if err := c.BodyParser(&config); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job, err := h.service.SaveConfig(c.Context(), id, &config)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

// DiffConfig reports whether the submitted draft differs from the job's
// saved configuration, so the operator client can gate saving before an
// execute.
func (h *JobHandler) DiffConfig(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var draft domain.SetupConfiguration
	if err := c.BodyParser(&draft); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	changed, err := h.service.ConfigChanged(c.Context(), id, &draft)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"jobId":   id,
		"changed": changed,
	})
}

func (h *JobHandler) CloneConfig(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req cloneConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	targets, err := h.service.CloneConfig(c.Context(), id, req.TargetJobIDs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"sourceJobId": id,
		"targets":     toJobResponses(targets),
	})
}

func (h *JobHandler) ExecuteSetup(c *fiber.Ctx) error {
	var req executeSetupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	results, err := h.service.ExecuteSetup(c.Context(), req.JobIDs)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]executeResultItem, 0, len(results))
	for _, result := range results {
		item := executeResultItem{JobID: result.JobID}
		if result.Err != nil {
			item.Error = result.Err.Error()
		}
		items = append(items, item)
	}

	return c.Status(fiber.StatusAccepted).JSON(executeSetupResponse{Results: items})
}

func (h *JobHandler) SetSubStepStatus(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	key := strings.TrimSpace(c.Params("key"))

	var req setSubStepStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	status, err := domain.ParseSubStepStatusFromString(req.Status)
	if err != nil {
		return toHTTPError(err)
	}

	job, err := h.service.SetSubStepStatus(c.Context(), id, key, status)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) ResetSubStep(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	key := strings.TrimSpace(c.Params("key"))

	var req resetSubStepRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job, err := h.service.ResetSubStep(c.Context(), id, key, req.Cascade)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *JobHandler) GetBlockingDependencies(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	key := strings.TrimSpace(c.Params("key"))

	blocking, err := h.service.BlockingDependencies(c.Context(), id, key)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(blockingDependenciesResponse{
		Key:      key,
		Blocking: blocking,
	})
}

func toJobResponses(jobs []*domain.Job) []jobResponse {
	responses := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toJobResponse(job))
	}
	return responses
}

func toJobResponse(j *domain.Job) jobResponse {
	if j == nil {
		return jobResponse{}
	}

	return jobResponse{
		ID:              j.ID,
		BatchID:         j.BatchID,
		RestaurantID:    j.RestaurantID,
		RestaurantName:  j.RestaurantName,
		Address:         j.Address,
		ContactEmail:    j.ContactEmail,
		ContactPhone:    j.ContactPhone,
		MenuIDs:         j.MenuIDs,
		Status:          j.Status.String(),
		CurrentStep:     j.CurrentStep,
		Steps:           j.Steps,
		Candidates:      j.Candidates,
		SelectedCompany: j.SelectedCompany,
		ManualEntry:     j.ManualEntry,
		SubSteps:        j.SubSteps,
		Config:          j.Config,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}
