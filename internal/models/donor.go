package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// XPPerUnit is the experience earned per unit of currency donated.
	XPPerUnit = 10
	// XPPerLevelStep divides xp before the square root of the level formula.
	XPPerLevelStep = 100
)

// EvolutionMilestones are the levels whose upward crossing evolves the donor NFT.
var EvolutionMilestones = []int{5, 10, 20, 50}

type Donor struct {
	Address         string          `json:"address"`
	TotalDonated    decimal.Decimal `json:"total_donated"`
	XP              decimal.Decimal `json:"xp"`
	Level           int             `json:"level"`
	DonationCount   int             `json:"donation_count"`
	NFTTokenID      *string         `json:"nft_token_id,omitempty"`
	DITTokenID      *string         `json:"dit_token_id,omitempty"`
	FirstDonationAt *time.Time      `json:"first_donation_at,omitempty"`
	LastDonationAt  *time.Time      `json:"last_donation_at,omitempty"`
	Version         int64           `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewDonor returns a donor with no donations yet.
func NewDonor(address string, now time.Time) *Donor {
	return &Donor{
		Address:      address,
		TotalDonated: decimal.Zero,
		XP:           decimal.Zero,
		Level:        1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Progression describes what a single donation changed.
type Progression struct {
	XPBefore      decimal.Decimal `json:"xp_before"`
	XPAfter       decimal.Decimal `json:"xp_after"`
	LevelBefore   int             `json:"level_before"`
	LevelAfter    int             `json:"level_after"`
	FirstDonation bool            `json:"first_donation"`
	Evolved       bool            `json:"evolved"`
	Milestone     int             `json:"milestone,omitempty"`
	Tier          Tier            `json:"tier"`
}

// AddDonation applies a positive donation. Callers validate the amount.
func (d *Donor) AddDonation(amount decimal.Decimal, at time.Time) Progression {
	p := Progression{XPBefore: d.XP, LevelBefore: d.Level}

	d.TotalDonated = d.TotalDonated.Add(amount)
	d.XP = d.XP.Add(amount.Mul(decimal.NewFromInt(XPPerUnit)))
	// levels never decrease, even if the stored level was ahead of xp
	if lvl := LevelForXP(d.XP); lvl > d.Level {
		d.Level = lvl
	}
	d.DonationCount++
	d.LastDonationAt = &at
	d.UpdatedAt = at
	if d.DonationCount == 1 {
		d.FirstDonationAt = &at
		p.FirstDonation = true
	}

	p.XPAfter = d.XP
	p.LevelAfter = d.Level
	p.Milestone = CrossedMilestone(p.LevelBefore, p.LevelAfter)
	p.Evolved = p.Milestone > 0
	p.Tier = TierForLevel(d.Level)
	return p
}

// ShouldReceiveDIT reports whether the first-donation credential is due.
func (d *Donor) ShouldReceiveDIT() bool {
	return d.DonationCount == 1 && d.DITTokenID == nil
}

// VotingPower is floor(totalDonated).
func (d *Donor) VotingPower() int64 {
	return d.TotalDonated.Floor().IntPart()
}

func (d *Donor) Tier() Tier {
	return TierForLevel(d.Level)
}

// LevelForXP is floor(sqrt(xp/100)) + 1.
func LevelForXP(xp decimal.Decimal) int {
	if !xp.IsPositive() {
		return 1
	}
	steps := xp.Div(decimal.NewFromInt(XPPerLevelStep)).Floor().IntPart()
	if steps <= 0 {
		return 1
	}
	return int(isqrt(uint64(steps))) + 1
}

// XPForLevel is the xp at which level starts: (level-1)^2 * 100.
func XPForLevel(level int) decimal.Decimal {
	if level <= 1 {
		return decimal.Zero
	}
	n := int64(level - 1)
	return decimal.NewFromInt(n * n * XPPerLevelStep)
}

func isqrt(n uint64) uint64 {
	if n < 2 {
		return n
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// CrossedMilestone returns the highest milestone in (before, after], or 0.
func CrossedMilestone(before, after int) int {
	if after <= before {
		return 0
	}
	crossed := 0
	for _, m := range EvolutionMilestones {
		if before < m && after >= m {
			crossed = m
		}
	}
	return crossed
}

type Tier struct {
	Name   string `json:"name"`
	Rarity string `json:"rarity"`
	Shape  string `json:"shape"`
}

const (
	TierBronze   = "Bronze"
	TierSilver   = "Silver"
	TierGold     = "Gold"
	TierPlatinum = "Platinum"
	TierDiamond  = "Diamond"
)

func TierForLevel(level int) Tier {
	switch {
	case level >= 10:
		return Tier{Name: TierDiamond, Rarity: "legendary", Shape: "star"}
	case level >= 8:
		return Tier{Name: TierPlatinum, Rarity: "epic", Shape: "hexagon"}
	case level >= 6:
		return Tier{Name: TierGold, Rarity: "rare", Shape: "pentagon"}
	case level >= 4:
		return Tier{Name: TierSilver, Rarity: "uncommon", Shape: "circle"}
	case level >= 2:
		return Tier{Name: TierBronze, Rarity: "uncommon", Shape: "circle"}
	default:
		return Tier{Name: TierBronze, Rarity: "common", Shape: "circle"}
	}
}
