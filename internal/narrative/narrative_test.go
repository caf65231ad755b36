package narrative

import (
	"strings"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/rules"
)

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	engine, err := rules.NewDefaultEngine(nil)
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}
	g, err := NewGenerator(DefaultDictionary(), engine)
	if err != nil {
		t.Fatalf("failed to create generator: %v", err)
	}
	return g
}

func TestDictionary(t *testing.T) {
	t.Run("DefaultIsComplete", func(t *testing.T) {
		if err := DefaultDictionary().Validate(); err != nil {
			t.Errorf("default dictionary invalid: %v", err)
		}
	})

	t.Run("MissingFeature", func(t *testing.T) {
		d := DefaultDictionary()
		delete(d, domain.FeatureTimeDiff)
		if err := d.Validate(); err == nil {
			t.Error("expected error for missing phrase")
		}
		if got := d.Describe(domain.FeatureTimeDiff); got != "TimeDiff was unusual" {
			t.Errorf("unexpected fallback %q", got)
		}
	})

	t.Run("UnknownKey", func(t *testing.T) {
		d := DefaultDictionary()
		d[domain.Feature(99)] = "bogus"
		if err := d.Validate(); err == nil {
			t.Error("expected error for unknown feature")
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		d, err := DefaultDictionary().WithOverrides(map[string]string{"Channel": "Rare channel"})
		if err != nil {
			t.Fatal(err)
		}
		if d.Describe(domain.FeatureChannel) != "Rare channel" {
			t.Errorf("override not applied: %q", d.Describe(domain.FeatureChannel))
		}
		if _, err := DefaultDictionary().WithOverrides(map[string]string{"Nope": "x"}); err == nil {
			t.Error("expected error for unknown override key")
		}
	})
}

func TestGenerate(t *testing.T) {
	g := newGenerator(t)

	raw := make([]float64, domain.NumFeatures)
	raw[domain.FeatureAmount] = 500000
	raw[domain.FeatureLoginAttempts] = 10
	raw[domain.FeatureAccountBalance] = 20000

	top := []domain.Contribution{
		{Feature: domain.FeatureAmount, Value: 0.8, Direction: domain.DirectionIncreased},
		{Feature: domain.FeatureLoginAttempts, Value: 0.5, Direction: domain.DirectionIncreased},
		{Feature: domain.FeatureLocation, Value: -0.1, Direction: domain.DirectionReduced},
	}

	n := g.Generate(top, raw)

	t.Run("BulletPerContribution", func(t *testing.T) {
		if len(n.Bullets) != 3 {
			t.Fatalf("expected 3 bullets, got %d", len(n.Bullets))
		}
	})

	t.Run("Format", func(t *testing.T) {
		want := []string{
			"Transaction amount was high (very high) → increased fraud risk.",
			"Unusual number of login attempts (multiple failed) → increased fraud risk.",
			"Suspicious location detected → reduced fraud risk.",
		}
		for i, w := range want {
			if got := n.Bullets[i].String(); got != w {
				t.Errorf("bullet %d: expected %q, got %q", i, w, got)
			}
		}
	})

	t.Run("Text", func(t *testing.T) {
		lines := strings.Split(n.Text(), "\n")
		if len(lines) != 3 || !strings.HasPrefix(lines[0], "- Transaction amount") {
			t.Errorf("unexpected text %q", n.Text())
		}
	})

	t.Run("HTML", func(t *testing.T) {
		h := n.HTML()
		if !strings.HasPrefix(h, "<div><p><strong>"+Intro+"</strong></p><ul><li>") {
			t.Errorf("unexpected prefix: %s", h)
		}
		if strings.Count(h, "<li>") != 3 {
			t.Errorf("expected 3 list items: %s", h)
		}
		if !strings.HasSuffix(h, "</ul></div>") {
			t.Errorf("unexpected suffix: %s", h)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		empty := g.Generate(nil, raw)
		if empty.HTML() != "" || empty.Text() != "" {
			t.Error("expected empty output for empty narrative")
		}
	})
}

func TestHTMLEscapes(t *testing.T) {
	d := DefaultDictionary()
	d[domain.FeatureMerchantID] = `<script>alert("x")</script>`
	g, err := NewGenerator(d, nil)
	if err != nil {
		t.Fatal(err)
	}
	n := g.Generate([]domain.Contribution{{Feature: domain.FeatureMerchantID, Value: 1}}, nil)
	h := n.HTML()
	if strings.Contains(h, "<script>") {
		t.Errorf("phrase was not escaped: %s", h)
	}
	if !strings.Contains(h, "&lt;script&gt;") {
		t.Errorf("expected escaped phrase: %s", h)
	}
	if n.Bullets[0].Direction != domain.DirectionIncreased {
		t.Errorf("expected direction derived from value, got %s", n.Bullets[0].Direction)
	}
}
