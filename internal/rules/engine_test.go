package rules

import (
	"sync"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.Count() != 0 {
		t.Errorf("expected 0 classifiers, got %d", engine.Count())
	}
	if _, ok := engine.Classify(domain.FeatureAmount, 10); ok {
		t.Error("expected no label without classifiers")
	}
}

func TestDefaultClassifiers(t *testing.T) {
	engine, err := NewDefaultEngine(nil)
	if err != nil {
		t.Fatalf("failed to create default engine: %v", err)
	}
	defer engine.Close()

	tests := []struct {
		name    string
		feature domain.Feature
		value   float64
		want    string
	}{
		{"AmountVeryHigh", domain.FeatureAmount, 150000, "very high"},
		{"AmountHigh", domain.FeatureAmount, 60000, "high"},
		{"AmountBoundary", domain.FeatureAmount, 50000, "moderate"},
		{"AmountModerate", domain.FeatureAmount, 120, "moderate"},
		{"BalanceVeryLow", domain.FeatureAccountBalance, 500, "very low"},
		{"BalanceLow", domain.FeatureAccountBalance, 1000, "low"},
		{"BalanceSufficient", domain.FeatureAccountBalance, 5000, "sufficient"},
		{"LoginMultiple", domain.FeatureLoginAttempts, 3, "multiple failed"},
		{"LoginNormal", domain.FeatureLoginAttempts, 2, "normal"},
		{"TimeDiffImmediate", domain.FeatureTimeDiff, 30, "immediately after previous"},
		{"TimeDiffNegative", domain.FeatureTimeDiff, -3600, "immediately after previous"},
		{"TimeDiffShort", domain.FeatureTimeDiff, 120, "short interval"},
		{"TimeDiffNormal", domain.FeatureTimeDiff, 300, "normal delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := engine.Classify(tt.feature, tt.value)
			if !ok {
				t.Fatalf("expected a label for %s", tt.feature)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("NoClassifier", func(t *testing.T) {
		if _, ok := engine.Classify(domain.FeatureLocation, 3); ok {
			t.Error("expected no label for Location")
		}
	})
}

func TestOverrides(t *testing.T) {
	t.Run("ReplaceAndRemove", func(t *testing.T) {
		engine, err := NewDefaultEngine(map[string]string{
			"CustomerAge":   `value < 21.0 ? "very young" : "adult"`,
			"LoginAttempts": "",
		})
		if err != nil {
			t.Fatalf("failed to create engine: %v", err)
		}
		if got, _ := engine.Classify(domain.FeatureCustomerAge, 19); got != "very young" {
			t.Errorf("expected override label, got %q", got)
		}
		if _, ok := engine.Classify(domain.FeatureLoginAttempts, 5); ok {
			t.Error("expected LoginAttempts classifier to be removed")
		}
		if engine.Count() != 4 {
			t.Errorf("expected 4 classifiers, got %d", engine.Count())
		}
	})

	t.Run("UnknownFeature", func(t *testing.T) {
		_, err := NewDefaultEngine(map[string]string{"IPAddress": `"x"`})
		if err == nil {
			t.Error("expected error for unknown feature")
		}
	})

	t.Run("NonStringExpression", func(t *testing.T) {
		_, err := NewDefaultEngine(map[string]string{"TransactionAmount": "value > 10.0"})
		if err == nil {
			t.Error("expected error for bool expression")
		}
	})

	t.Run("InvalidSyntax", func(t *testing.T) {
		engine, _ := NewEngine()
		if err := engine.Validate(domain.FeatureAmount, "this is not valid CEL !!!"); err == nil {
			t.Error("expected compile error")
		}
		if engine.Count() != 0 {
			t.Error("Validate must not load the classifier")
		}
	})
}

func TestReloadIsAtomic(t *testing.T) {
	engine, _ := NewDefaultEngine(nil)
	before := engine.Count()

	err := engine.Reload(map[domain.Feature]string{
		domain.FeatureAmount:  `"ok"`,
		domain.FeatureChannel: `value +`,
	})
	if err == nil {
		t.Fatal("expected reload error")
	}
	if engine.Count() != before {
		t.Errorf("expected %d classifiers after failed reload, got %d", before, engine.Count())
	}
}

func TestConcurrentClassify(t *testing.T) {
	engine, _ := NewDefaultEngine(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			if _, ok := engine.Classify(domain.FeatureAmount, v); !ok {
				t.Errorf("classify failed for %f", v)
			}
		}(float64(i * 5000))
	}
	wg.Wait()
}
