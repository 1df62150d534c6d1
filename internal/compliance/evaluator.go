// Package compliance turns raw PPE detections into a compliance verdict.
package compliance

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

// Canonical PPE types.
const (
	HardHat       = "hard_hat"
	SafetyVest    = "safety_vest"
	Gloves        = "gloves"
	SafetyGoggles = "safety_goggles"
	FaceMask      = "face_mask"
	SafetyBoots   = "safety_boots"
	EarProtection = "ear_protection"
	Harness       = "harness"
)

// Keys are already normalized (see normalize).
var defaultAliases = map[string]string{
	"hard_hat":        HardHat,
	"hardhat":         HardHat,
	"helmet":          HardHat,
	"safety_helmet":   HardHat,
	"safety_vest":     SafetyVest,
	"vest":            SafetyVest,
	"hi_vis":          SafetyVest,
	"hi_vis_vest":     SafetyVest,
	"high_visibility": SafetyVest,
	"reflective_vest": SafetyVest,
	"gloves":          Gloves,
	"glove":           Gloves,
	"safety_gloves":   Gloves,
	"safety_goggles":  SafetyGoggles,
	"goggles":         SafetyGoggles,
	"glasses":         SafetyGoggles,
	"safety_glasses":  SafetyGoggles,
	"face_mask":       FaceMask,
	"mask":            FaceMask,
	"respirator":      FaceMask,
	"safety_boots":    SafetyBoots,
	"boots":           SafetyBoots,
	"safety_shoes":    SafetyBoots,
	"ear_protection":  EarProtection,
	"earmuffs":        EarProtection,
	"ear_muffs":       EarProtection,
	"ear_plugs":       EarProtection,
	"harness":         Harness,
	"safety_harness":  Harness,
	"fall_arrest":     Harness,
	"fall_protection": Harness,
}

// normalize lower-cases and folds dashes and any whitespace to single
// underscores, trimmed at both ends.
func normalize(label string) string {
	s := strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, strings.ToLower(label))
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// Canonicalizer maps raw detector labels to the fixed PPE vocabulary.
type Canonicalizer struct {
	aliases map[string]string
}

var defaultCanonicalizer = &Canonicalizer{aliases: defaultAliases}

// NewCanonicalizer extends the default alias table. Every target must be a
// fixed point of the combined table, otherwise Canonicalize would stop being
// idempotent.
func NewCanonicalizer(extra map[string]string) (*Canonicalizer, error) {
	aliases := make(map[string]string, len(defaultAliases)+len(extra))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for raw, target := range extra {
		key := normalize(raw)
		if key == "" {
			return nil, fmt.Errorf("alias %q: empty label", raw)
		}
		canon := defaultCanonicalizer.Canonicalize(target)
		if canon == "" {
			return nil, fmt.Errorf("alias %q: empty target", raw)
		}
		aliases[key] = canon
	}
	for key, target := range aliases {
		if next, ok := aliases[target]; ok && next != target {
			return nil, fmt.Errorf("alias %q: target %q is itself mapped to %q", key, target, next)
		}
	}
	return &Canonicalizer{aliases: aliases}, nil
}

// Canonicalize maps a raw label to its canonical type. Unknown labels pass
// through normalized; empty labels yield "".
func (c *Canonicalizer) Canonicalize(label string) string {
	key := normalize(label)
	if key == "" {
		return ""
	}
	if canon, ok := c.aliases[key]; ok {
		return canon
	}
	return key
}

// Canonicalize uses the default alias table.
func Canonicalize(label string) string {
	return defaultCanonicalizer.Canonicalize(label)
}

// CanonicalizeList canonicalizes and de-duplicates labels, keeping the first
// occurrence order and dropping empties.
func (c *Canonicalizer) CanonicalizeList(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		canon := c.Canonicalize(l)
		if canon == "" {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	return out
}

// Evaluator binds an alias table, the required PPE list and a per-item
// confidence floor.
type Evaluator struct {
	Canon         *Canonicalizer
	Required      []string
	MinConfidence float64
}

func NewEvaluator(canon *Canonicalizer, required []string, minConfidence float64) *Evaluator {
	if canon == nil {
		canon = defaultCanonicalizer
	}
	return &Evaluator{
		Canon:         canon,
		Required:      canon.CanonicalizeList(required),
		MinConfidence: minConfidence,
	}
}

// Evaluate scores detected items against the default required list semantics.
func Evaluate(detected []models.DetectedItem, required []string) models.ComplianceResult {
	return evaluate(defaultCanonicalizer, detected, required, 0)
}

func (e *Evaluator) Evaluate(detected []models.DetectedItem) models.ComplianceResult {
	return evaluate(e.Canon, detected, e.Required, e.MinConfidence)
}

func evaluate(c *Canonicalizer, detected []models.DetectedItem, required []string, minConfidence float64) models.ComplianceResult {
	required = c.CanonicalizeList(required)

	present := make(map[string]struct{}, len(detected))
	detectedTypes := make([]string, 0, len(detected))
	for _, item := range detected {
		if item.Confidence < minConfidence {
			continue
		}
		canon := c.Canonicalize(item.Label)
		if canon == "" {
			continue
		}
		if _, dup := present[canon]; dup {
			continue
		}
		present[canon] = struct{}{}
		detectedTypes = append(detectedTypes, canon)
	}

	missing := make([]string, 0, len(required))
	for _, t := range required {
		if _, ok := present[t]; !ok {
			missing = append(missing, t)
		}
	}

	res := models.ComplianceResult{
		DetectedTypes: detectedTypes,
		MissingTypes:  missing,
		Score:         1.0,
		Severity:      models.SeverityNone,
		Compliant:     true,
	}
	if len(required) == 0 {
		return res
	}

	res.Score = float64(len(required)-len(missing)) / float64(len(required))
	switch {
	case len(missing) == 0:
	case len(missing) == len(required):
		res.Severity = models.SeverityCritical
		res.Compliant = false
	default:
		res.Severity = models.SeverityWarning
		res.Compliant = false
	}
	return res
}

// MissingItems converts the missing types of a result into descriptors.
func MissingItems(res models.ComplianceResult) []models.PPEItem {
	items := make([]models.PPEItem, 0, len(res.MissingTypes))
	for _, t := range res.MissingTypes {
		items = append(items, models.PPEItem{Type: t, Required: true})
	}
	return items
}
