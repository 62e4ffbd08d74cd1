package classifier

import "strings"

// Label is a material class in the order of the model's output layer.
type Label int

const (
	Baterai Label = iota
	Daun
	Elektronik
	Kaca
	Kardus
	Kertas
	Lampu
	Logam
	Pakaian
	Plastik
	SampahMakanan
	Sterofom
)

// LabelUnknown marks a name the model set does not contain.
const LabelUnknown Label = -1

var labelNames = [...]string{
	Baterai:       "Baterai",
	Daun:          "Daun",
	Elektronik:    "Elektronik",
	Kaca:          "Kaca",
	Kardus:        "Kardus",
	Kertas:        "Kertas",
	Lampu:         "Lampu",
	Logam:         "Logam",
	Pakaian:       "Pakaian",
	Plastik:       "Plastik",
	SampahMakanan: "Sampah Makanan",
	Sterofom:      "Sterofom",
}

// NumLabels is the size of the model's output layer.
const NumLabels = len(labelNames)

// Labels returns every label in output order.
func Labels() []Label {
	out := make([]Label, NumLabels)
	for i := range out {
		out[i] = Label(i)
	}
	return out
}

// Valid reports whether l belongs to the fixed label set.
func (l Label) Valid() bool {
	return l >= 0 && int(l) < NumLabels
}

func (l Label) String() string {
	if !l.Valid() {
		return "Unknown"
	}
	return labelNames[l]
}

// ParseLabel maps a label name back to its Label. Matching ignores case and
// surrounding whitespace; unknown names yield LabelUnknown and false.
func ParseLabel(name string) (Label, bool) {
	name = strings.TrimSpace(name)
	for i, n := range labelNames {
		if strings.EqualFold(n, name) {
			return Label(i), true
		}
	}
	return LabelUnknown, false
}
