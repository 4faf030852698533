// Package patterns holds the pattern registry and the batch extractor that
// mines the event ledger for recurring behaviour.
package patterns

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/rcliao/accessmind/internal/model"
)

const (
	// DefaultCapacity is the number of patterns retained after each add.
	DefaultCapacity = 100
	// MaxMergedConfidence caps confidence produced by a merge.
	MaxMergedConfidence = 0.95
)

// ErrUnknownPattern is returned when merging into an id that is not registered.
var ErrUnknownPattern = errors.New("unknown pattern")

// Registry keeps patterns sorted by confidence, highest first.
type Registry struct {
	capacity int
	list     []model.Pattern
}

// NewRegistry creates a registry retaining at most capacity patterns.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{capacity: capacity}
}

// Add inserts p, or merges it into the registered pattern with the same id.
// It reports whether p was inserted as a new pattern. Patterns without an id
// or a valid category are rejected.
func (r *Registry) Add(p model.Pattern) (inserted bool, err error) {
	if p.ID == "" {
		return false, fmt.Errorf("%w: pattern id is required", model.ErrInvalidInput)
	}
	if !p.Category.Valid() {
		return false, fmt.Errorf("%w: pattern %q has no category", model.ErrInvalidInput, p.ID)
	}
	if r.indexOf(p.ID) >= 0 {
		return false, r.Merge(p.ID, p)
	}
	p = p.Clone()
	p.Confidence = clamp01(p.Confidence)
	if p.DetectionCount <= 0 {
		p.DetectionCount = 1
	}
	r.list = append(r.list, p)
	r.settle()
	return true, nil
}

// Merge folds candidate into the registered pattern id: confidence becomes the
// average of both (capped), the detection count grows by one, and the last
// detection time is replaced. The recommendation and related events are
// replaced only when the candidate carries them.
func (r *Registry) Merge(id string, candidate model.Pattern) error {
	i := r.indexOf(id)
	if i < 0 {
		return fmt.Errorf("merge %q: %w", id, ErrUnknownPattern)
	}
	existing := &r.list[i]
	existing.Confidence = min(MaxMergedConfidence, (existing.Confidence+clamp01(candidate.Confidence))/2)
	existing.DetectionCount++
	existing.LastDetected = candidate.LastDetected
	if candidate.ActionRecommendation != "" {
		existing.ActionRecommendation = candidate.ActionRecommendation
	}
	if len(candidate.RelatedEventIDs) > 0 {
		existing.RelatedEventIDs = slices.Clone(candidate.RelatedEventIDs)
	}
	if candidate.Description != "" {
		existing.Description = candidate.Description
	}
	r.settle()
	return nil
}

// settle re-sorts by confidence and truncates to capacity. Ties keep
// insertion order.
func (r *Registry) settle() {
	sort.SliceStable(r.list, func(i, j int) bool {
		return r.list[i].Confidence > r.list[j].Confidence
	})
	if len(r.list) > r.capacity {
		r.list = r.list[:r.capacity]
	}
}

func (r *Registry) indexOf(id string) int {
	for i := range r.list {
		if r.list[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns a copy of the pattern with id.
func (r *Registry) Get(id string) (model.Pattern, bool) {
	i := r.indexOf(id)
	if i < 0 {
		return model.Pattern{}, false
	}
	return r.list[i].Clone(), true
}

// List returns a deep copy of all patterns, highest confidence first.
func (r *Registry) List() []model.Pattern {
	return model.ClonePatterns(r.list)
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int { return len(r.list) }

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
