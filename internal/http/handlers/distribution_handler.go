package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/http/dto"
	"github.com/impact-escrow/backend/internal/services"
)

type DistributionHandler struct {
	distributionService *services.DistributionService
	log                 *zap.Logger
}

func NewDistributionHandler(distributionService *services.DistributionService, log *zap.Logger) *DistributionHandler {
	return &DistributionHandler{distributionService: distributionService, log: log}
}

func (h *DistributionHandler) Run(c *fiber.Ctx) error {
	var req dto.RunDistributionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	batch, err := h.distributionService.Run(c.Context(), req.Profit, actorOf(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: batch})
}

func (h *DistributionHandler) GetBatch(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid batch id")
	}
	batch, err := h.distributionService.Get(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: batch})
}

func (h *DistributionHandler) GetPool(c *fiber.Ctx) error {
	pool, err := h.distributionService.Pool(c.Context())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: pool})
}
