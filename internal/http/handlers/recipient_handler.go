package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/http/dto"
	"github.com/impact-escrow/backend/internal/services"
)

type RecipientHandler struct {
	recipientService *services.RecipientService
	log              *zap.Logger
}

func NewRecipientHandler(recipientService *services.RecipientService, log *zap.Logger) *RecipientHandler {
	return &RecipientHandler{recipientService: recipientService, log: log}
}

func (h *RecipientHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRecipientRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}
	rc, err := h.recipientService.Register(c.Context(), services.RegisterRecipientRequest{
		Name:           req.Name,
		WalletAddress:  req.WalletAddress,
		Category:       req.Category,
		ImpactScore:    req.ImpactScore,
		Weight:         req.Weight,
		Certifications: req.Certifications,
		Website:        req.Website,
		Description:    req.Description,
		Actor:          actorOf(c),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: rc})
}

func (h *RecipientHandler) List(c *fiber.Ctx) error {
	list, err := h.recipientService.List(c.Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

func (h *RecipientHandler) Get(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid recipient id")
	}
	rc, err := h.recipientService.Get(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rc})
}

func (h *RecipientHandler) UpdateImpact(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid recipient id")
	}
	var req dto.UpdateImpactRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	rc, err := h.recipientService.UpdateImpactScore(c.Context(), id, req.ImpactScore, req.Certifications, actorOf(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rc})
}
