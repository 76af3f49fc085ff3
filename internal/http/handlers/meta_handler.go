package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/impact-escrow/backend/internal/http/dto"
	"github.com/impact-escrow/backend/internal/models"
)

type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaCategory struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type MetaTier struct {
	MinLevel int `json:"min_level"`
	models.Tier
}

var predefinedCategories = []MetaCategory{
	{ID: models.RecipientCategoryClimate, Label: "Climate & Environment"},
	{ID: models.RecipientCategoryHealth, Label: "Health"},
	{ID: models.RecipientCategoryEducation, Label: "Education"},
	{ID: models.RecipientCategoryWater, Label: "Water & Sanitation"},
	{ID: models.RecipientCategoryOther, Label: "Other"},
}

func (h *MetaHandler) GetCategories(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: predefinedCategories})
}

// GetTiers lists the donor tiers with the first level of each.
func (h *MetaHandler) GetTiers(c *fiber.Ctx) error {
	var tiers []MetaTier
	prev := ""
	for level := 1; level <= 10; level++ {
		t := models.TierForLevel(level)
		key := t.Name + t.Rarity
		if key == prev {
			continue
		}
		prev = key
		tiers = append(tiers, MetaTier{MinLevel: level, Tier: t})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"tiers":      tiers,
		"milestones": models.EvolutionMilestones,
	}})
}
