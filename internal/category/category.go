// Package category maps classified materials to a disposal category and the
// guidance shown to the user.
package category

import (
	"github.com/example/waste-sort/internal/classifier"
)

// Category is the disposal group of a material.
type Category int

const (
	Unknown Category = iota
	Organic
	Inorganic
	Hazardous
)

func (c Category) String() string {
	switch c {
	case Organic:
		return "Organic"
	case Inorganic:
		return "Inorganic"
	case Hazardous:
		return "Hazardous"
	default:
		return "Unknown"
	}
}

// Categories lists every category including Unknown.
func Categories() []Category {
	return []Category{Organic, Inorganic, Hazardous, Unknown}
}

// Resolution is the guidance attached to a label.
type Resolution struct {
	Label         string
	Category      Category
	Description   string
	DisposalSteps []string
}

type guidance struct {
	description string
	steps       []string
}

var byLabel = map[classifier.Label]Category{
	classifier.Logam:         Inorganic,
	classifier.Plastik:       Inorganic,
	classifier.Pakaian:       Inorganic,
	classifier.Kaca:          Inorganic,
	classifier.Sterofom:      Inorganic,
	classifier.Daun:          Organic,
	classifier.Kardus:        Organic,
	classifier.SampahMakanan: Organic,
	classifier.Kertas:        Organic,
	classifier.Baterai:       Hazardous,
	classifier.Lampu:         Hazardous,
	classifier.Elektronik:    Hazardous,
}

var byCategory = map[Category]guidance{
	Organic: {
		description: "Organic waste comes from living matter and breaks down naturally. It can be composted into fertiliser instead of going to landfill.",
		steps: []string{
			"Separate organic waste from plastic, metal and other inorganic material.",
			"Drain excess liquid and cut large pieces into smaller parts.",
			"Put it in a compost bin or a biopore hole, or hand it to an organic waste collection point.",
			"Keep paper and cardboard dry so they can still be recycled.",
		},
	},
	Inorganic: {
		description: "Inorganic waste does not decompose naturally and stays in the environment for a long time. Most of it can be reused or recycled.",
		steps: []string{
			"Clean the item from food residue and liquid.",
			"Sort it by material: plastic, metal, glass, textile or styrofoam.",
			"Flatten or compress it to save space.",
			"Deposit it at a waste bank or recycling drop-off, or reuse it where possible.",
		},
	},
	Hazardous: {
		description: "Hazardous waste (B3) contains toxic or reactive substances that can contaminate soil and water and harm people if handled carelessly.",
		steps: []string{
			"Do not mix it with household waste and never burn it.",
			"Store it in a closed, labelled container away from children and heat.",
			"Tape battery terminals and keep broken lamps wrapped to avoid injury.",
			"Hand it to an official B3 or e-waste collection point.",
		},
	},
}

var unknownGuidance = guidance{
	description: "The material could not be matched to a known category.",
	steps: []string{
		"Check the item manually or ask your local waste management office.",
		"Keep it separate from other waste until its category is confirmed.",
	},
}

// Of returns the category of a label. Labels outside the table are Unknown.
func Of(label classifier.Label) Category {
	if c, ok := byLabel[label]; ok {
		return c
	}
	return Unknown
}

// Resolve returns the category and disposal guidance for a label. It never
// fails: labels outside the table resolve to Unknown with generic guidance.
func Resolve(label classifier.Label) Resolution {
	c := Of(label)
	g, ok := byCategory[c]
	if !ok {
		g = unknownGuidance
	}
	steps := make([]string, len(g.steps))
	copy(steps, g.steps)
	return Resolution{
		Label:         label.String(),
		Category:      c,
		Description:   g.description,
		DisposalSteps: steps,
	}
}

// ResolveName resolves a label by its name.
func ResolveName(name string) Resolution {
	label, ok := classifier.ParseLabel(name)
	if !ok {
		r := Resolve(classifier.LabelUnknown)
		r.Label = name
		return r
	}
	return Resolve(label)
}
