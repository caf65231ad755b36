package pipeline

// Simulation thresholds for the "try your own transaction" heuristic.
const (
	SimulateHighAmount     = 75000
	SimulateModerateAmount = 30000
	SimulateHighAttempts   = 3
)

// Simulation tiers.
const (
	SimulationHigh     = "High"
	SimulationModerate = "Moderate"
	SimulationLow      = "Low"
)

// SimulationInput is a single hypothetical transaction.
type SimulationInput struct {
	Amount        float64 `json:"amount" validate:"gte=0"`
	LoginAttempts int     `json:"loginAttempts" validate:"gte=0"`
	Duration      float64 `json:"duration" validate:"gte=0"`
	Balance       float64 `json:"balance"`
}

// SimulationResult is the heuristic verdict.
type SimulationResult struct {
	Tier    string   `json:"tier"`
	Reasons []string `json:"reasons"`
}

// Simulate classifies a hypothetical transaction without a model: High if the
// amount exceeds 75000 or there were at least 3 login attempts, Moderate if the
// amount exceeds 30000, Low otherwise. Duration and balance are accepted for
// display only.
func Simulate(in SimulationInput) SimulationResult {
	var reasons []string
	if in.Amount > SimulateHighAmount {
		reasons = append(reasons, "Transaction amount above 75,000")
	}
	if in.LoginAttempts >= SimulateHighAttempts {
		reasons = append(reasons, "Multiple failed login attempts")
	}
	if len(reasons) > 0 {
		return SimulationResult{Tier: SimulationHigh, Reasons: reasons}
	}
	if in.Amount > SimulateModerateAmount {
		return SimulationResult{Tier: SimulationModerate, Reasons: []string{"Transaction amount above 30,000"}}
	}
	return SimulationResult{Tier: SimulationLow, Reasons: []string{}}
}
