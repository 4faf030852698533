// Package decision evaluates access requests against the current threat
// picture and pattern registry, negotiates fees, and derives
// recommendations and policy settings.
package decision

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rcliao/accessmind/internal/config"
	"github.com/rcliao/accessmind/internal/model"
	"github.com/rcliao/accessmind/internal/patterns"
)

const (
	// MaxDurationMultiplier caps the duration factor of a fee.
	MaxDurationMultiplier = 5
	compromiseFloor       = 0.8
)

// Request is an access request from a counterparty.
type Request struct {
	Counterparty string
	Category     model.DataCategory
	Duration     time.Duration
}

// Validate rejects requests the engine must not record.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Counterparty) == "" {
		return fmt.Errorf("counterparty is required: %w", model.ErrInvalidInput)
	}
	if len(r.Counterparty) > model.MaxCounterpartyBytes {
		return fmt.Errorf("counterparty exceeds %d bytes: %w", model.MaxCounterpartyBytes, model.ErrInvalidInput)
	}
	if !utf8.ValidString(r.Counterparty) {
		return fmt.Errorf("counterparty must be valid UTF-8: %w", model.ErrInvalidInput)
	}
	if r.Category == model.CategoryNone || !r.Category.Valid() {
		return fmt.Errorf("data category is required: %w", model.ErrInvalidInput)
	}
	if r.Duration < 0 {
		return fmt.Errorf("duration must not be negative: %w", model.ErrInvalidInput)
	}
	return nil
}

// Event is the request event recorded before evaluation.
func (r Request) Event() model.EventInput {
	return model.EventInput{
		Kind:              model.KindRequest,
		Importance:        0.6,
		EmotionalWeight:   0.3,
		Context:           model.EventContext{Counterparty: r.Counterparty, Category: r.Category, Stability: model.Stability(0.9)},
		RequestedDuration: r.Duration,
	}
}

// Engine holds the decision thresholds. It keeps no state of its own; every
// call works on the snapshot it is given.
type Engine struct {
	cfg config.DecisionConfig
}

// New creates a decision engine.
func New(cfg config.DecisionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// BaseRate is the per-grant fee of a category before the duration factor.
func BaseRate(c model.DataCategory) float64 {
	switch c {
	case model.CategoryIdentity, model.CategoryFinancial, model.CategoryBiometric:
		return 2.0
	case model.CategoryLocation:
		return 1.5
	case model.CategoryBrowsing, model.CategorySocial:
		return 1.0
	default:
		return 0.5
	}
}

// Fee prices a grant of category c for d.
func Fee(c model.DataCategory, d time.Duration) float64 {
	return BaseRate(c) * min(MaxDurationMultiplier, 1+d.Hours()/24)
}

// Evaluate decides a request given the current patterns. Recording the
// request event is the caller's job.
func (e *Engine) Evaluate(req Request, ps []model.Pattern) model.Decision {
	d := model.Decision{
		Counterparty: req.Counterparty,
		Category:     req.Category,
		Duration:     req.Duration,
	}

	for _, t := range e.AnalyzeThreats(ps) {
		if t.Likelihood > e.cfg.ThreatDenyLikelihood {
			d.Reason = "Threat detected: " + t.Title
			return d
		}
	}

	for _, p := range ps {
		if p.Category == model.PatternSecurity && p.Counterparty == req.Counterparty && p.Confidence > e.cfg.SecurityDenyConfidence {
			d.Reason = fmt.Sprintf("Security risk from %s: %s", patterns.ShortParty(req.Counterparty), p.Name)
			return d
		}
	}

	fee := Fee(req.Category, req.Duration)
	if req.Category.Sensitive() {
		d.Reason = fmt.Sprintf("%s is sensitive; use proof-based verification", req.Category)
		d.ProofSuggested = true
		return d
	}

	d.Approved = true
	d.Reason = "Access aligns with privacy policies"
	d.Fee = fee
	return d
}

// Negotiate evaluates req and weighs offered against the fair fee. A denied
// request is returned as is. An offer below the fair fee gets a counter-offer
// at the midpoint; when even the midpoint is far below the fair fee the
// counter-offer also shortens the duration in proportion to the offer.
func (e *Engine) Negotiate(req Request, offered float64, ps []model.Pattern) model.Negotiation {
	d := e.Evaluate(req, ps)
	n := model.Negotiation{Decision: d}
	if !d.Approved {
		return n
	}
	n.FairFee = d.Fee
	if offered >= d.Fee {
		n.Accepted = true
		return n
	}

	compromise := (d.Fee + offered) / 2
	duration := req.Duration
	if compromise < d.Fee*compromiseFloor {
		secs := math.Floor(req.Duration.Seconds() * offered / d.Fee)
		duration = time.Duration(secs) * time.Second
	}
	n.CounterOffer = &model.CounterOffer{
		Duration: duration,
		Fee:      math.Round(compromise*100) / 100,
	}
	return n
}

// ValidateOffer rejects offered fees that are negative or not finite.
func ValidateOffer(offered float64) error {
	if math.IsNaN(offered) || math.IsInf(offered, 0) || offered < 0 {
		return fmt.Errorf("offered fee %v must be a finite non-negative number: %w", offered, model.ErrInvalidInput)
	}
	return nil
}
