package rules

import "github.com/opensource-finance/fraudlens/internal/domain"

// DefaultClassifiers returns the built-in severity classifiers.
// Features without an entry get no severity label.
func DefaultClassifiers() map[domain.Feature]string {
	return map[domain.Feature]string{
		domain.FeatureAmount: `value > 100000.0 ? "very high" : (value > 50000.0 ? "high" : "moderate")`,

		domain.FeatureAccountBalance: `value < 1000.0 ? "very low" : (value < 5000.0 ? "low" : "sufficient")`,

		domain.FeatureLoginAttempts: `value >= 3.0 ? "multiple failed" : "normal"`,

		domain.FeatureTimeDiff: `value < 60.0 ? "immediately after previous" : (value < 300.0 ? "short interval" : "normal delay")`,
	}
}
