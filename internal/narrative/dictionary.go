// Package narrative turns ranked feature contributions into short
// human-readable explanations.
package narrative

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Dictionary maps each feature to the phrase used in explanations.
type Dictionary map[domain.Feature]string

// DefaultDictionary returns the built-in phrases.
func DefaultDictionary() Dictionary {
	return Dictionary{
		domain.FeatureAmount:             "Transaction amount was high",
		domain.FeatureType:               "Unusual transaction type",
		domain.FeatureLocation:           "Suspicious location detected",
		domain.FeatureChannel:            "Unusual channel used",
		domain.FeatureDeviceID:           "Unfamiliar device used",
		domain.FeatureMerchantID:         "Unrecognized merchant",
		domain.FeatureCustomerAge:        "Customer age was uncommon for such activity",
		domain.FeatureCustomerOccupation: "Uncommon occupation for this transaction type",
		domain.FeatureDuration:           "Transaction took unusually long",
		domain.FeatureLoginAttempts:      "Unusual number of login attempts",
		domain.FeatureAccountBalance:     "Account balance was low",
		domain.FeatureTimeDiff:           "Short time since previous transaction",
	}
}

// WithOverrides returns a copy of d with phrases replaced by canonical feature name.
func (d Dictionary) WithOverrides(phrases map[string]string) (Dictionary, error) {
	out := make(Dictionary, len(d))
	for f, p := range d {
		out[f] = p
	}
	for name, phrase := range phrases {
		f, err := domain.ParseFeature(name)
		if err != nil {
			return nil, fmt.Errorf("phrase override: %w", err)
		}
		out[f] = phrase
	}
	return out, nil
}

// Validate checks that every feature has a non-empty phrase and no unknown keys exist.
func (d Dictionary) Validate() error {
	var problems []string
	for f := range d {
		if !f.Valid() {
			problems = append(problems, fmt.Sprintf("unknown feature %d", int(f)))
		}
	}
	for _, f := range domain.AllFeatures() {
		if strings.TrimSpace(d[f]) == "" {
			problems = append(problems, fmt.Sprintf("no phrase for %s", f))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid dictionary: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Describe returns the phrase for f, or "<feature> was unusual" when unmapped.
func (d Dictionary) Describe(f domain.Feature) string {
	if p, ok := d[f]; ok && p != "" {
		return p
	}
	return f.String() + " was unusual"
}
