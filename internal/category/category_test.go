package category

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/waste-sort/internal/classifier"
)

func TestEveryLabelHasAKnownCategory(t *testing.T) {
	for _, l := range classifier.Labels() {
		r := Resolve(l)
		assert.NotEqual(t, Unknown, r.Category, l.String())
		assert.NotEmpty(t, r.Description)
		assert.NotEmpty(t, r.DisposalSteps)
		assert.Equal(t, l.String(), r.Label)
	}
}

func TestResolveMatchesMaterialGroups(t *testing.T) {
	cases := map[classifier.Label]Category{
		classifier.Logam:         Inorganic,
		classifier.Sterofom:      Inorganic,
		classifier.Kardus:        Organic,
		classifier.SampahMakanan: Organic,
		classifier.Baterai:       Hazardous,
		classifier.Elektronik:    Hazardous,
	}
	for label, want := range cases {
		assert.Equal(t, want, Resolve(label).Category, label.String())
	}
}

func TestResolveIsPure(t *testing.T) {
	first := Resolve(classifier.Plastik)
	first.DisposalSteps[0] = "mutated"

	second := Resolve(classifier.Plastik)
	assert.NotEqual(t, "mutated", second.DisposalSteps[0])
	assert.Equal(t, Resolve(classifier.Plastik), second)
}

func TestUnknownLabelResolvesToUnknown(t *testing.T) {
	r := Resolve(classifier.Label(99))
	assert.Equal(t, Unknown, r.Category)
	assert.Equal(t, "Unknown", r.Category.String())
	assert.Equal(t, unknownGuidance.description, r.Description)

	r = ResolveName("Kayu")
	assert.Equal(t, Unknown, r.Category)
	assert.Equal(t, "Kayu", r.Label)
	assert.NotEmpty(t, r.DisposalSteps)
}
