package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/service"
)

type BatchService interface {
	Create(ctx context.Context, name string, seeds []service.RestaurantSeed, failFast bool) (*domain.Batch, []*domain.Job, error)
	Start(ctx context.Context, batchID string) (*domain.Batch, error)
	Cancel(ctx context.Context, batchID string) (*domain.Batch, error)
	RefreshCounts(ctx context.Context, batchID string) (*domain.Batch, error)
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, []*domain.Job, error)
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches/:batchId", h.GetBatch)
	v1.Post("/batches/:batchId/start", h.StartBatch)
	v1.Post("/batches/:batchId/cancel", h.CancelBatch)
	v1.Post("/batches/:batchId/refresh", h.RefreshBatch)

	return nil
}

type restaurantSeedRequest struct {
	RestaurantID string   `json:"restaurantId"`
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	ContactEmail string   `json:"contactEmail"`
	ContactPhone string   `json:"contactPhone"`
	MenuIDs      []string `json:"menuIds"`
}

type createBatchRequest struct {
	Name        string                  `json:"name"`
	FailFast    bool                    `json:"failFast"`
	Restaurants []restaurantSeedRequest `json:"restaurants"`
}

type batchResponse struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name,omitempty"`
	Status               string    `json:"status"`
	TotalRestaurants     int       `json:"totalRestaurants"`
	CompletedRestaurants int       `json:"completedRestaurants"`
	FailedRestaurants    int       `json:"failedRestaurants"`
	CurrentStep          int       `json:"currentStep"`
	TotalSteps           int       `json:"totalSteps"`
	FailFast             bool      `json:"failFast"`
	JobIDs               []string  `json:"jobIds,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type batchDetailResponse struct {
	Batch batchResponse `json:"batch"`
	Jobs  []jobResponse `json:"jobs"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Restaurants) == 0 {
		return toHTTPError(fmt.Errorf("%w: restaurants is required", domain.ErrValidation))
	}

	seeds := make([]service.RestaurantSeed, 0, len(req.Restaurants))
	for _, item := range req.Restaurants {
		seeds = append(seeds, service.RestaurantSeed{
			RestaurantID: item.RestaurantID,
			Name:         item.Name,
			Address:      item.Address,
			ContactEmail: item.ContactEmail,
			ContactPhone: item.ContactPhone,
			MenuIDs:      item.MenuIDs,
		})
	}

	batch, jobs, err := h.service.Create(c.Context(), req.Name, seeds, req.FailFast)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(batchDetailResponse{
		Batch: toBatchResponse(batch),
		Jobs:  toJobResponses(jobs),
	})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	batch, jobs, err := h.service.GetBatch(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(batchDetailResponse{
		Batch: toBatchResponse(batch),
		Jobs:  toJobResponses(jobs),
	})
}

func (h *BatchHandler) StartBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	batch, err := h.service.Start(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) CancelBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	batch, err := h.service.Cancel(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) RefreshBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	batch, err := h.service.RefreshCounts(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:                   b.ID,
		Name:                 b.Name,
		Status:               b.Status.String(),
		TotalRestaurants:     b.TotalRestaurants,
		CompletedRestaurants: b.CompletedRestaurants,
		FailedRestaurants:    b.FailedRestaurants,
		CurrentStep:          b.CurrentStep,
		TotalSteps:           b.TotalSteps,
		FailFast:             b.FailFast,
		JobIDs:               b.JobIDs,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrConcurrency):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDependencyBlocked):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrExternalService):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}
