package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/http/dto"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/services"
)

type DonationHandler struct {
	donationService *services.DonationService
	log             *zap.Logger
}

func NewDonationHandler(donationService *services.DonationService, log *zap.Logger) *DonationHandler {
	return &DonationHandler{donationService: donationService, log: log}
}

func (h *DonationHandler) Donate(c *fiber.Ctx) error {
	var req dto.DonateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	res, err := h.donationService.Donate(c.Context(), services.DonateCommand{
		DonorAddress: req.DonorAddress,
		Amount:       req.Amount,
		Actor:        actorOf(c),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *DonationHandler) GetDonor(c *fiber.Ctx) error {
	donor, err := h.donationService.Get(c.Context(), c.Params("address"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.DonorResponse{
		Donor:       donor,
		Tier:        donor.Tier(),
		VotingPower: donor.VotingPower(),
		NextLevelXP: models.XPForLevel(donor.Level + 1).String(),
	}})
}
