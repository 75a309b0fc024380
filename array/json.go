package array

import (
	"math"

	json "github.com/goccy/go-json"
)

type wireArray struct {
	Dims   []string   `json:"dims"`
	Coords Coords     `json:"coords"`
	Values []*float64 `json:"values"`
}

// MarshalJSON encodes the array as {"dims", "coords", "values"} with values
// in row-major order and missing cells as null.
func (a *Array) MarshalJSON() ([]byte, error) {
	w := wireArray{
		Dims:   a.dims,
		Coords: a.coords,
		Values: make([]*float64, len(a.data)),
	}

	for i := range a.data {
		if !math.IsNaN(a.data[i]) {
			w.Values[i] = &a.data[i]
		}
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes an array written by MarshalJSON.
func (a *Array) UnmarshalJSON(b []byte) error {
	var w wireArray
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	data := make([]float64, len(w.Values))

	for i, v := range w.Values {
		if v == nil {
			data[i] = math.NaN()
		} else {
			data[i] = *v
		}
	}

	if w.Dims == nil {
		w.Dims = []string{}
	}

	if w.Coords == nil {
		w.Coords = Coords{}
	}

	out, err := New(w.Dims, w.Coords, data)
	if err != nil {
		return err
	}

	*a = *out

	return nil
}
