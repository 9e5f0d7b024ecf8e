package features

import (
	"github.com/Skufu/healthlens/internal/schema"
)

// Tier is a confidence bucket.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

const (
	highConfidence   = 0.95
	mediumConfidence = 0.90
)

// TierOf buckets a confidence. An absent confidence is low, not zero.
func TierOf(confidence *float64) Tier {
	switch {
	case confidence == nil:
		return TierLow
	case *confidence >= highConfidence:
		return TierHigh
	case *confidence >= mediumConfidence:
		return TierMedium
	default:
		return TierLow
	}
}

// Tiers partitions the tiered fields of an extraction.
type Tiers struct {
	High   []string `json:"high"`
	Medium []string `json:"medium"`
	Low    []string `json:"low"`
}

// ReviewSet is what the review step shows: the tier partition plus which
// fields block submission and which are only offered for confirmation.
type ReviewSet struct {
	Tiers                    Tiers    `json:"tiers"`
	RequiredKeys             []string `json:"requiredKeys"`
	OptionalConfirmationKeys []string `json:"optionalConfirmationKeys"`
}

// Classify partitions the schema fields of n by confidence tier. Fields
// carrying the missing marker are not tiered.
func Classify(s *schema.Schema, n *Normalized) Tiers {
	t := Tiers{High: []string{}, Medium: []string{}, Low: []string{}}
	for _, k := range n.Keys(s) {
		tier, ok := n.Fields[k].Tier()
		if !ok {
			continue
		}
		switch tier {
		case TierHigh:
			t.High = append(t.High, k)
		case TierMedium:
			t.Medium = append(t.Medium, k)
		default:
			t.Low = append(t.Low, k)
		}
	}
	return t
}

// Review derives the required and optional-confirmation key sets.
//
// required = required schema fields the extraction is missing ∪ low tier.
// optional = high ∪ medium, minus anything required.
// Identity fields are in neither set.
func Review(s *schema.Schema, n *Normalized) ReviewSet {
	tiers := Classify(s, n)

	required := make(map[string]bool)
	for _, k := range s.RequiredKeys() {
		if f, ok := n.Fields[k]; !ok || f.Missing {
			required[k] = true
		}
	}
	for _, k := range tiers.Low {
		required[k] = true
	}

	optional := make(map[string]bool)
	for _, k := range append(append([]string{}, tiers.High...), tiers.Medium...) {
		if !required[k] {
			optional[k] = true
		}
	}

	for _, f := range s.Fields() {
		if f.Identity {
			delete(required, f.Name)
			delete(optional, f.Name)
		}
	}

	return ReviewSet{
		Tiers:                    tiers,
		RequiredKeys:             sortedKeys(s, required),
		OptionalConfirmationKeys: sortedKeys(s, optional),
	}
}

func sortedKeys(s *schema.Schema, set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sortBySchema(s, out)
	return out
}
