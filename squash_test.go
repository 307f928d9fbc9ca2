package mocapsnet

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec32"
)

func TestSquashOutput(t *testing.T) {
	in := anydiff.NewConst(anyvec32.MakeVectorData([]float32{
		3, 4,
		0, 0,
		1, 0,
	}))
	expected := []float32{
		25.0 / 26 * 3.0 / 5, 25.0 / 26 * 4.0 / 5,
		0, 0,
		0.5, 0,
	}
	actual := Squash(in, 2).Output().Data().([]float32)
	for i, x := range expected {
		a := actual[i]
		if math.IsNaN(float64(a)) || math.Abs(float64(x-a)) > 1e-3 {
			t.Errorf("component %d: expected %f but got %f", i, x, a)
		}
	}
}

func TestSquashBounds(t *testing.T) {
	in := anydiff.NewConst(anyvec32.MakeVectorData([]float32{
		100, -250, 3,
		0.001, 0, 0,
		-7, 2, 9,
		0, 0, 0,
	}))
	out := Squash(in, 3).Output().Data().([]float32)
	for i := 0; i < len(out); i += 3 {
		var norm float64
		for _, x := range out[i : i+3] {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				t.Fatalf("vector %d: non-finite component %f", i/3, x)
			}
			norm += float64(x) * float64(x)
		}
		norm = math.Sqrt(norm)
		if norm >= 1 {
			t.Errorf("vector %d: norm %f should be less than 1", i/3, norm)
		}
	}
}

func TestSquashProp(t *testing.T) {
	v := anydiff.NewVar(anyvec32.MakeVectorData([]float32{
		1, 2, -1, 0.5, 0.3, -2.5,
	}))
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return Squash(v, 3)
		},
		V: []*anydiff.Var{v},
	}
	checker.FullCheck(t)
}
