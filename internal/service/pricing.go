package service

import (
	"encoding/json"
	"math"

	"gorm.io/datatypes"

	"github.com/noah-isme/elevate-api/internal/apperror"
	"github.com/noah-isme/elevate-api/internal/models"
)

// PointsPolicy prices an activity. Implementations must be pure.
type PointsPolicy interface {
	BasePoints(activity models.Activity, payload datatypes.JSON) (int, error)
	AdjustmentBand() float64
	MaxAward() int
}

// CatalogPolicy prices flat activities from the catalog default and variable
// activities from the trained counts in the payload.
type CatalogPolicy struct {
	Band          float64
	Max           int
	PeerWeight    int
	StudentWeight int
}

// NewCatalogPolicy builds the default policy. Zero values fall back to program defaults.
func NewCatalogPolicy(band float64, maxAward int) CatalogPolicy {
	if band <= 0 {
		band = 0.20
	}
	if maxAward <= 0 {
		maxAward = 1000
	}
	return CatalogPolicy{Band: band, Max: maxAward, PeerWeight: 2, StudentWeight: 1}
}

type variablePayload struct {
	PeersTrained    *int `json:"peers_trained"`
	StudentsTrained *int `json:"students_trained"`
}

func (p CatalogPolicy) BasePoints(activity models.Activity, payload datatypes.JSON) (int, error) {
	points := activity.DefaultPoints

	if activity.VariablePoints && len(payload) > 0 {
		var counts variablePayload
		if err := json.Unmarshal(payload, &counts); err != nil {
			return 0, apperror.Validation("malformed %s payload", activity.Code)
		}
		if counts.PeersTrained != nil || counts.StudentsTrained != nil {
			peers, students := 0, 0
			if counts.PeersTrained != nil {
				peers = *counts.PeersTrained
			}
			if counts.StudentsTrained != nil {
				students = *counts.StudentsTrained
			}
			if peers < 0 || students < 0 {
				return 0, apperror.Validation("trained counts must not be negative")
			}
			points = peers*p.PeerWeight + students*p.StudentWeight
			if points > p.Max {
				points = p.Max
			}
		}
	}

	if err := p.checkBounds(points); err != nil {
		return 0, err
	}
	return points, nil
}

func (p CatalogPolicy) AdjustmentBand() float64 {
	return p.Band
}

func (p CatalogPolicy) MaxAward() int {
	return p.Max
}

func (p CatalogPolicy) checkBounds(points int) error {
	if points < 0 {
		return apperror.Validation("points must not be negative")
	}
	if points > p.Max {
		return apperror.Validation("points %d exceed the maximum award of %d", points, p.Max)
	}
	return nil
}

// ApplyAdjustment returns base+adjustment when |adjustment| is within band of base.
// The comparison runs in basis points so exact band edges are accepted.
func ApplyAdjustment(policy PointsPolicy, base int, adjustment *int) (int, error) {
	if adjustment == nil || *adjustment == 0 {
		return base, nil
	}

	bandBps := int64(math.Round(policy.AdjustmentBand() * 10000))
	delta := int64(*adjustment)
	if delta < 0 {
		delta = -delta
	}
	if delta*10000 > bandBps*int64(base) {
		return 0, apperror.Validation("point adjustment %+d is outside ±%.0f%% of base %d", *adjustment, policy.AdjustmentBand()*100, base)
	}

	awarded := base + *adjustment
	if awarded < 0 {
		return 0, apperror.Validation("awarded points must not be negative")
	}
	if awarded > policy.MaxAward() {
		return 0, apperror.Validation("awarded points %d exceed the maximum award of %d", awarded, policy.MaxAward())
	}
	return awarded, nil
}
