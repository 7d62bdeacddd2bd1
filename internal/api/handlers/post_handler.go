package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/promotrack/insights-api/internal/repository"
	"github.com/promotrack/insights-api/internal/service"
	"github.com/promotrack/insights-api/internal/transfer"
)

type PostHandler struct {
	s  service.TrackingService
	mh repository.MeasurementHistoryRepository
}

func NewPostHandler(service service.TrackingService, mh repository.MeasurementHistoryRepository) *PostHandler {
	return &PostHandler{s: service, mh: mh}
}

func (h *PostHandler) RegisterPost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var registration transfer.PostRegistration
	if err := c.BodyParser(&registration); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	id, err := h.s.RegisterPost(c.Context(), userID, &registration)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateMedia) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Media already registered",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post registered for measurement",
		"id":      id,
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	posts, err := h.s.List(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

// ListHistory exposes measurement attempts, including failed ones. The posts
// themselves only ever show pending or measured.
func (h *PostHandler) ListHistory(c *fiber.Ctx) error {
	userID := GetUserID(c)

	history, err := h.mh.GetByUserID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list measurement history",
		})
	}

	return c.Status(fiber.StatusOK).JSON(history)
}
