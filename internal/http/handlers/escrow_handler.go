package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/http/dto"
	"github.com/impact-escrow/backend/internal/middleware"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/services"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	gate          *services.OracleGate
	ownerSeed     string
	log           *zap.Logger
}

// NewEscrowHandler funds every escrow from ownerSeed; the seed never crosses
// the API.
func NewEscrowHandler(escrowService *services.EscrowService, gate *services.OracleGate, ownerSeed string, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, gate: gate, ownerSeed: ownerSeed, log: log}
}

func actorOf(c *fiber.Ctx) services.Actor {
	typ := models.ActorTypeOperator
	if middleware.GetRole(c) == models.ActorTypeOracle {
		typ = models.ActorTypeOracle
	}
	return services.Actor{Type: typ, ID: middleware.GetSubject(c)}
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Beneficiary == "" {
		return badRequest(c, "beneficiary is required")
	}

	view, err := h.escrowService.CreateConditionalEscrow(c.Context(), services.CreateEscrowRequest{
		OwnerSeed:   h.ownerSeed,
		Amount:      req.Amount,
		Beneficiary: req.Beneficiary,
		Deadline:    req.Deadline,
		NotBefore:   req.NotBefore,
		Actor:       actorOf(c),
	})
	if err != nil {
		if view != nil {
			// stored but unfunded; the caller can retry with /fund
			h.log.Warn("escrow created without lock", zap.String("escrow_id", view.ID.String()), zap.Error(err))
		}
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: view})
}

func (h *EscrowHandler) CreateMilestoneEscrows(c *fiber.Ctx) error {
	var req dto.CreateMilestoneEscrowsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Beneficiary == "" {
		return badRequest(c, "beneficiary is required")
	}

	milestones := make([]services.Milestone, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		milestones = append(milestones, services.Milestone{
			Percentage:  m.Percentage,
			Description: m.Description,
			Deadline:    m.Deadline,
		})
	}
	views, err := h.escrowService.CreateMilestoneEscrows(c.Context(), services.MilestoneEscrowRequest{
		OwnerSeed:   h.ownerSeed,
		Amount:      req.Amount,
		Beneficiary: req.Beneficiary,
		Deadline:    req.Deadline,
		NotBefore:   req.NotBefore,
		Milestones:  milestones,
		Actor:       actorOf(c),
	})
	if err != nil {
		if len(views) > 0 {
			h.log.Warn("milestone escrows partially created", zap.Int("created", len(views)), zap.Error(err))
		}
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: views})
}

func (h *EscrowHandler) FundEscrow(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid escrow id")
	}
	view, err := h.escrowService.Fund(c.Context(), id, h.ownerSeed)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: view})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid escrow id")
	}
	view, err := h.escrowService.Get(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: view})
}

func (h *EscrowHandler) ListStuck(c *fiber.Ctx) error {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	list, err := h.escrowService.ListStuck(c.Context(), limit)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

func (h *EscrowHandler) SubmitVerdict(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid escrow id")
	}
	var req dto.SubmitVerdictRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	res, err := h.gate.SubmitVerdict(c.Context(), id, services.VerdictSubmission{
		Approved:          req.Approved,
		EvidenceHash:      req.EvidenceHash,
		ValidatorIdentity: req.ValidatorIdentity,
		Evidence:          []byte(req.Evidence),
		Signature:         req.Signature,
		Caller:            middleware.GetSubject(c),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

// Evaluate asks the configured verifier for a verdict on evidence.
func (h *EscrowHandler) Evaluate(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid escrow id")
	}
	var req dto.EvaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	res, err := h.gate.Evaluate(c.Context(), id, []byte(req.Evidence))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *EscrowHandler) ListVerdicts(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid escrow id")
	}
	list, err := h.gate.Verdicts(c.Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

func (h *EscrowHandler) AuditTrail(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid escrow id")
	}
	logs, err := h.escrowService.AuditTrail(c.Context(), id, c.QueryInt("limit", 50))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *EscrowHandler) CancelExpired(c *fiber.Ctx) error {
	return h.cancel(c, false)
}

func (h *EscrowHandler) Abort(c *fiber.Ctx) error {
	return h.cancel(c, true)
}

func (h *EscrowHandler) cancel(c *fiber.Ctx, abort bool) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid escrow id")
	}
	out, err := h.escrowService.Cancel(c.Context(), id, services.CancelRequest{Abort: abort, Actor: actorOf(c)})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}
