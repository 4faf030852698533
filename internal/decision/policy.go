package decision

import (
	"fmt"

	"github.com/rcliao/accessmind/internal/model"
)

const (
	strictAbove    = 0.8
	elevatedAbove  = 0.6
	proofAbove     = 0.7
	baseProtection = 0.5
)

// TierFor maps a protection level to its tier.
func TierFor(protection float64) model.ProtectionTier {
	switch {
	case protection > strictAbove:
		return model.TierStrict
	case protection > elevatedAbove:
		return model.TierElevated
	default:
		return model.TierStandard
	}
}

func policyFor(protection float64) model.CategoryPolicy {
	p := model.CategoryPolicy{Tier: TierFor(protection), Protection: protection}
	switch p.Tier {
	case model.TierStrict:
		p.Encryption, p.Sharing = "maximum", "never"
	case model.TierElevated:
		p.Encryption, p.Sharing = "high", "allowlist"
	default:
		p.Encryption, p.Sharing = "standard", "pool"
	}
	return p
}

// Optimize derives per-category protection from the patterns that concern each
// category and splits the stake budget according to the threat level.
func (e *Engine) Optimize(ps []model.Pattern) model.PolicyBundle {
	b := model.PolicyBundle{
		Categories:           make(map[model.DataCategory]model.CategoryPolicy, len(model.PolicyCategories)),
		ProofRecommendations: []model.ProofRecommendation{},
	}
	for _, cat := range model.PolicyCategories {
		protection := baseProtection
		for _, p := range ps {
			if p.DataCategory == cat {
				protection = max(protection, p.Confidence)
			}
		}
		b.Categories[cat] = policyFor(protection)
		if protection > proofAbove {
			b.ProofRecommendations = append(b.ProofRecommendations, model.ProofRecommendation{
				Category:       cat,
				Recommendation: fmt.Sprintf("Use proof-based verification for %s", cat),
			})
		}
	}

	b.ThreatLevel = ThreatLevel(e.AnalyzeThreats(ps))
	b.StakeAllocation = e.allocate(b.ThreatLevel)
	return b
}

func (e *Engine) allocate(threatLevel float64) map[model.StakeType]float64 {
	budget := e.cfg.StakeBudget
	security := budget * 0.5
	if threatLevel > 0.5 {
		security = budget * 0.7
	}
	validator := budget * 0.3
	return map[model.StakeType]float64{
		model.StakeSecurity:      security,
		model.StakeDataValidator: validator,
		model.StakeService:       max(0, budget-security-validator),
		model.StakeLiquidity:     0,
	}
}
