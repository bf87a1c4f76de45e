package domain

import "context"

// Service is the read side of the recap tables plus the interactive
// allocation preview.
type Service interface {
	List(ctx context.Context, kind Kind, req ListRequest) (any, error)
	Summaries(ctx context.Context, req ListRequest) ([]UnitPeriodSummary, error)
	Preview(ctx context.Context, req ListRequest) (*AllocationRecap, error)
}

// ListRequest selects recap rows. Period picks one bucket; otherwise From
// and To bound period keys inclusively. UnitID is optional except for
// Preview.
type ListRequest struct {
	UnitID      string `form:"unit_id"`
	Granularity string `form:"granularity"`
	Period      string `form:"period"`
	From        string `form:"from"`
	To          string `form:"to"`
}

func ParseKind(raw string) (Kind, error) {
	switch k := Kind(raw); k {
	case KindTransaction, KindAllocation, KindDistribution, KindAmilRights, KindUnit:
		return k, nil
	}
	return "", ErrInvalidKind
}
