// Package rulefallback implements the deterministic decision tree (spec
// §4.C) used whenever the AI advisor is unavailable, plus the rolling
// technical-indicator feature extraction (features.go) that feeds it.
package rulefallback

import (
	"github.com/ajitpratap0/solmev/internal/advisor"
)

const (
	highVolatilityThreshold = 0.5
	rsiOverbought           = 70.0
	rsiOversold             = 30.0
	change24hUpThreshold    = 0.05
	change24hDownThreshold  = -0.05
)

// Decide evaluates the fixed-order rule list against snap and returns the
// first matching rule's decision. Exactly one rule always matches (rule 8 is
// the catch-all), so this never errors.
func Decide(snap advisor.FeatureSnapshot) advisor.Decision {
	base := advisor.Decision{Source: advisor.SourceFallback}

	if snap.Volatility > highVolatilityThreshold {
		base.Action = advisor.ActionSkip
		base.Confidence = 0.8
		base.RiskScore = 0.9
		base.Rationale = "volatility above threshold"
		return base
	}

	if snap.RSI != nil && *snap.RSI > rsiOverbought {
		base.Action = advisor.ActionExecute
		base.Confidence = 0.7
		base.RiskScore = 0.4
		base.RecommendedSlippageBps = 75
		base.Rationale = "rsi overbought, exit intent"
		return base
	}

	if snap.RSI != nil && *snap.RSI < rsiOversold {
		base.Action = advisor.ActionExecute
		base.Confidence = 0.6
		base.RiskScore = 0.5
		base.Rationale = "rsi oversold"
		return base
	}

	if snap.ShortMA != nil && snap.LongMA != nil {
		if *snap.ShortMA > *snap.LongMA && snap.Price > *snap.ShortMA {
			base.Action = advisor.ActionExecute
			base.Confidence = 0.65
			base.Rationale = "short ma above long ma, price above short ma"
			return base
		}
		if *snap.ShortMA < *snap.LongMA && snap.Price < *snap.ShortMA {
			base.Action = advisor.ActionExecute
			base.Confidence = 0.65
			base.Rationale = "short ma below long ma, price below short ma"
			return base
		}
	}

	if snap.Change24h > change24hUpThreshold {
		base.Action = advisor.ActionExecute
		base.Confidence = 0.55
		base.Rationale = "24h change above threshold"
		return base
	}

	if snap.Change24h < change24hDownThreshold {
		base.Action = advisor.ActionExecute
		base.Confidence = 0.55
		base.Rationale = "24h change below threshold"
		return base
	}

	base.Action = advisor.ActionSkip
	base.Confidence = 0.5
	base.RiskScore = 0.3
	base.Rationale = "no rule matched"
	return base
}
