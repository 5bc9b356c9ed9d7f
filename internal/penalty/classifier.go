// internal/penalty/classifier.go
package penalty

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"libraryapi/internal/library"
)

// Classifier maps a number of overdue days to a penalty type.
// It returns library.PenaltyNone when no penalty applies.
type Classifier interface {
	Classify(overdueDays int) library.PenaltyType
}

// Tier assigns Type to every overdue day count of at least MinDays.
type Tier struct {
	MinDays int
	Type    library.PenaltyType
}

// DefaultTiers is the classification used when none is configured.
func DefaultTiers() []Tier {
	return []Tier{
		{MinDays: 1, Type: library.PenaltyMinor},
		{MinDays: 8, Type: library.PenaltyModerate},
		{MinDays: 31, Type: library.PenaltySevere},
	}
}

// ThresholdClassifier picks the tier with the largest MinDays not exceeding
// the overdue day count. Tiers are validated to be monotone: more overdue
// days never yield a less severe type.
type ThresholdClassifier struct {
	tiers []Tier
}

func NewThresholdClassifier(tiers []Tier) (*ThresholdClassifier, error) {
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinDays < sorted[j].MinDays })

	for i, tier := range sorted {
		if tier.MinDays < 1 {
			return nil, fmt.Errorf("tier %s: minimum days must be at least 1, got %d", tier.Type, tier.MinDays)
		}
		if tier.Type == library.PenaltyNone {
			return nil, fmt.Errorf("tier starting at %d days: type %s cannot be assigned", tier.MinDays, tier.Type)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.MinDays == tier.MinDays {
			return nil, fmt.Errorf("duplicate tier threshold %d", tier.MinDays)
		}
		if tier.Type.Severity() < prev.Type.Severity() {
			return nil, fmt.Errorf("tier %s at %d days is less severe than %s at %d days", tier.Type, tier.MinDays, prev.Type, prev.MinDays)
		}
	}

	return &ThresholdClassifier{tiers: sorted}, nil
}

func (c *ThresholdClassifier) Classify(overdueDays int) library.PenaltyType {
	result := library.PenaltyNone
	for _, tier := range c.tiers {
		if overdueDays < tier.MinDays {
			break
		}
		result = tier.Type
	}
	return result
}

// ParseTiers reads a tier list such as "1:Minor,8:Moderate,31:Severe".
func ParseTiers(s string) ([]Tier, error) {
	var tiers []Tier
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		days, name, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid penalty tier %q: want <days>:<type>", part)
		}
		minDays, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil {
			return nil, fmt.Errorf("invalid penalty tier %q: %w", part, err)
		}
		penaltyType, err := library.ParsePenaltyType(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("invalid penalty tier %q: %w", part, err)
		}
		tiers = append(tiers, Tier{MinDays: minDays, Type: penaltyType})
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no penalty tiers in %q", s)
	}
	return tiers, nil
}
