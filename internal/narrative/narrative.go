package narrative

import (
	"html"
	"strings"

	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/rules"
)

// Intro heads every HTML explanation.
const Intro = "The model flagged this transaction as fraudulent based on the following factors:"

// Bullet is one explained factor.
type Bullet struct {
	Feature     domain.Feature   `json:"feature"`
	Description string           `json:"description"`
	Severity    string           `json:"severity,omitempty"`
	Direction   domain.Direction `json:"direction"`
}

// String renders "<description>[ (<severity>)] → <direction> fraud risk."
func (b Bullet) String() string {
	var sb strings.Builder
	sb.WriteString(b.Description)
	if b.Severity != "" {
		sb.WriteString(" (")
		sb.WriteString(b.Severity)
		sb.WriteString(")")
	}
	sb.WriteString(" → ")
	sb.WriteString(string(b.Direction))
	sb.WriteString(" fraud risk.")
	return sb.String()
}

// Narrative is the explanation for one transaction.
type Narrative struct {
	Bullets []Bullet `json:"bullets"`
}

// Empty reports whether there is nothing to say.
func (n Narrative) Empty() bool { return len(n.Bullets) == 0 }

// HTML renders the narrative as an escaped fragment. Empty narratives render as "".
func (n Narrative) HTML() string {
	if n.Empty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<div><p><strong>")
	sb.WriteString(html.EscapeString(Intro))
	sb.WriteString("</strong></p><ul>")
	for _, b := range n.Bullets {
		sb.WriteString("<li>")
		sb.WriteString(html.EscapeString(b.String()))
		sb.WriteString("</li>")
	}
	sb.WriteString("</ul></div>")
	return sb.String()
}

// Text renders one "- " bullet per line.
func (n Narrative) Text() string {
	lines := make([]string, len(n.Bullets))
	for i, b := range n.Bullets {
		lines[i] = "- " + b.String()
	}
	return strings.Join(lines, "\n")
}

// Generator builds narratives from ranked contributions.
type Generator struct {
	dict  Dictionary
	rules *rules.Engine
}

// NewGenerator validates the dictionary. A nil engine disables severity labels.
func NewGenerator(dict Dictionary, engine *rules.Engine) (*Generator, error) {
	if err := dict.Validate(); err != nil {
		return nil, err
	}
	return &Generator{dict: dict, rules: engine}, nil
}

// Generate produces one bullet per contribution, in the given order. Severity
// labels are computed from raw, the unscaled feature vector of the row.
func (g *Generator) Generate(top []domain.Contribution, raw []float64) Narrative {
	n := Narrative{Bullets: make([]Bullet, 0, len(top))}
	for _, c := range top {
		b := Bullet{
			Feature:     c.Feature,
			Description: g.dict.Describe(c.Feature),
			Direction:   c.Direction,
		}
		if b.Direction == "" {
			b.Direction = domain.DirectionReduced
			if c.Value > 0 {
				b.Direction = domain.DirectionIncreased
			}
		}
		if g.rules != nil && int(c.Feature) < len(raw) {
			if label, ok := g.rules.Classify(c.Feature, raw[c.Feature]); ok {
				b.Severity = label
			}
		}
		n.Bullets = append(n.Bullets, b)
	}
	return n
}
