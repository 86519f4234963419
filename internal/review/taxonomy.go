package review

import (
	"slices"
	"strings"

	"github.com/gaia-review/gaia/internal/errors"
)

// Classification is a reviewer's label for a point of interest.
type Classification string

// Known classifications.
const (
	ClassWhale    Classification = "whale"
	ClassBird     Classification = "bird"
	ClassShip     Classification = "ship"
	ClassDebris   Classification = "debris"
	ClassWater    Classification = "water"
	ClassWhitecap Classification = "whitecap"
	ClassCloud    Classification = "cloud"
	ClassGlint    Classification = "sun_glint"
	ClassUnsure   Classification = "unsure"
	ClassOther    Classification = "other"
)

type classInfo struct {
	label string
	// animal classes need a target species and a confidence
	animal bool
}

var taxonomy = map[Classification]classInfo{
	ClassWhale:    {label: "Whale", animal: true},
	ClassBird:     {label: "Bird"},
	ClassShip:     {label: "Ship"},
	ClassDebris:   {label: "Debris"},
	ClassWater:    {label: "Water"},
	ClassWhitecap: {label: "Whitecap"},
	ClassCloud:    {label: "Cloud"},
	ClassGlint:    {label: "Sun glint"},
	ClassUnsure:   {label: "Unsure"},
	ClassOther:    {label: "Other"},
}

// ParseClassification maps user input to a known classification. Matching
// ignores case and surrounding space.
func ParseClassification(s string) (Classification, error) {
	c := Classification(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := taxonomy[c]; !ok {
		return "", errors.New(errors.NewStd("unknown classification")).
			Component("review").
			Category(errors.CategoryValidation).
			Context("field", "classification").
			Context("value", s).
			Build()
	}
	return c, nil
}

// RequiresTarget reports whether annotations with this class must name a
// target species and a confidence.
func (c Classification) RequiresTarget() bool {
	return taxonomy[c].animal
}

// IsAnimal reports whether c is the animal category that consensus can
// finalise.
func (c Classification) IsAnimal() bool {
	return taxonomy[c].animal
}

// Label is the display name.
func (c Classification) Label() string {
	if info, ok := taxonomy[c]; ok {
		return info.label
	}
	return string(c)
}

// Classifications lists the taxonomy in a stable order.
func Classifications() []Classification {
	out := make([]Classification, 0, len(taxonomy))
	for c := range taxonomy {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// AnimalClassifications lists the classes that put a POI on the
// validation list.
func AnimalClassifications() []string {
	var out []string
	for _, c := range Classifications() {
		if c.IsAnimal() {
			out = append(out, string(c))
		}
	}
	return out
}
