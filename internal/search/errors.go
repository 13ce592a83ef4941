package search

import (
	"fmt"

	"github.com/google/uuid"
)

// SearchExhaustedError means neither random trials nor the deterministic
// fallback produced a single valid candidate.
type SearchExhaustedError struct {
	MainMaterial uuid.UUID
	Min, Max     float64
	Step         float64
}

func (e *SearchExhaustedError) Error() string {
	return fmt.Sprintf("no valid candidate for main material %s over ratios %.2f..%.2f step %.2f; check per-material min/max ratio bounds",
		e.MainMaterial, e.Min, e.Max, e.Step)
}

// ReferenceError means a swap referenced a material absent from the base
// mixture.
type ReferenceError struct {
	MaterialID uuid.UUID
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("material %s is not in the base mixture", e.MaterialID)
}
