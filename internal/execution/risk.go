package execution

import (
	"context"
	"fmt"
	"math"

	"autosniper/internal/models"
	"autosniper/internal/resilience"
)

// Risk scoring thresholds. A trade is approved only when no hard block fired
// and the accumulated score stays below approvalScoreLimit.
const (
	approvalScoreLimit = 75.0

	confidenceWarnBelow  = 70.0
	confidenceBlockBelow = 50.0

	priceMoveWarnAbovePct  = 10.0
	priceMoveBlockAbovePct = 20.0
)

// AssessTradeRisk accumulates a risk score for the opportunity from its
// confidence, the 24h price move, account-balance reachability and the
// safety system's status.
func (e *Engine) AssessTradeRisk(ctx context.Context, symbol string, opp models.TradingOpportunity, ticker *models.Ticker) models.RiskAssessment {
	assessment := models.RiskAssessment{MaxPositionFrac: 1.0}

	confidence := opp.Match.Confidence
	if min := e.cfg.Get().MinConfidence; confidence < min {
		assessment.BlockReasons = append(assessment.BlockReasons,
			fmt.Sprintf("confidence %.1f below configured minimum %.1f", confidence, min))
	}
	switch {
	case confidence < confidenceBlockBelow:
		assessment.BlockReasons = append(assessment.BlockReasons,
			fmt.Sprintf("confidence %.1f below minimum threshold %.0f", confidence, confidenceBlockBelow))
	case confidence < confidenceWarnBelow:
		assessment.Score += 20
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("confidence %.1f below %.0f", confidence, confidenceWarnBelow))
	}

	move := math.Abs(ticker.PriceChange24h)
	switch {
	case move > priceMoveBlockAbovePct:
		assessment.BlockReasons = append(assessment.BlockReasons,
			fmt.Sprintf("24h price move %.1f%% exceeds %.0f%%", move, priceMoveBlockAbovePct))
	case move > priceMoveWarnAbovePct:
		assessment.Score += 15
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("24h price move %.1f%% exceeds %.0f%%", move, priceMoveWarnAbovePct))
	}

	_, err := resilience.Call(e.breaker, ctx, func(ctx context.Context) ([]models.Balance, error) {
		return e.exchange.GetAccountBalances(ctx)
	})
	if err != nil {
		assessment.BlockReasons = append(assessment.BlockReasons,
			fmt.Sprintf("account balance unreachable: %v", err))
	}

	if e.safety != nil {
		status, err := e.safety(ctx)
		switch {
		case err != nil || status == models.SafetyCritical:
			assessment.BlockReasons = append(assessment.BlockReasons, "safety system critical")
		case status == models.SafetyWarning:
			assessment.Score += 10
			assessment.Warnings = append(assessment.Warnings, "safety system warning")
		}
	}

	assessment.Approved = len(assessment.BlockReasons) == 0 && assessment.Score < approvalScoreLimit
	if assessment.Score > 0 {
		// Scale the permitted position fraction down as the score rises.
		assessment.MaxPositionFrac = math.Max(0.25, 1-assessment.Score/100)
	}
	return assessment
}
