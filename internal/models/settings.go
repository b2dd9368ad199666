package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settings are the runtime knobs admins change without a redeploy.
// CompanyCutPercent is a fraction: 0.10 takes ten percent of the pot.
type Settings struct {
	CompanyCutPercent decimal.Decimal `json:"company_cut_percent"`
	RolloverEnabled   bool            `json:"rollover_enabled"`
	UpdatedBy         *uuid.UUID      `json:"updated_by,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CutPercentPlaces is the precision company_cut_percent is stored with.
const CutPercentPlaces = 4

// ValidateCutPercent accepts fractions in [0, 1) with at most
// CutPercentPlaces decimal places.
func ValidateCutPercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: company_cut_percent %s not in [0, 1)", ErrValidation, p)
	}
	if !p.Equal(p.Truncate(CutPercentPlaces)) {
		return fmt.Errorf("%w: company_cut_percent %s has more than %d decimal places", ErrValidation, p, CutPercentPlaces)
	}
	return nil
}
