package mocapsnet

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec32"
)

func TestMarginCostOutput(t *testing.T) {
	loss := DefaultLoss()
	desired := anydiff.NewConst(anyvec32.MakeVectorData([]float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}))
	lengths := anydiff.NewConst(anyvec32.MakeVectorData([]float32{
		// Perfect sample: present at m+, absent at m-.
		0.95, 0.05, 0.1,
		// Dead capsules everywhere.
		0, 0, 0,
		// Confident but wrong.
		0.8, 0.9, 0.3,
	}))
	expected := []float32{
		0,
		0.9 * 0.9,
		0.5*(0.7*0.7+0.8*0.8) + 0.6*0.6,
	}
	actual := loss.MarginCost(desired, lengths, 3).Output().Data().([]float32)
	if len(actual) != len(expected) {
		t.Fatalf("expected %d costs, but got %d", len(expected), len(actual))
	}
	for i, x := range expected {
		if math.Abs(float64(x-actual[i])) > 1e-3 {
			t.Errorf("sample %d: expected %f but got %f", i, x, actual[i])
		}
	}
}

func TestMarginCostLambda(t *testing.T) {
	loss := &Loss{PosMargin: 0.9, NegMargin: 0.1, Lambda: 0.25}
	desired := anydiff.NewConst(anyvec32.MakeVectorData([]float32{1, 0}))
	lengths := anydiff.NewConst(anyvec32.MakeVectorData([]float32{0.9, 0.6}))
	expected := 0.25 * 0.5 * 0.5
	actual := loss.MarginCost(desired, lengths, 1).Output().Data().([]float32)
	if math.Abs(float64(actual[0])-expected) > 1e-4 {
		t.Errorf("expected %f but got %f", expected, actual[0])
	}
}

func TestLossReconstructionTerm(t *testing.T) {
	loss := DefaultLoss()
	desired := anydiff.NewConst(anyvec32.MakeVectorData([]float32{1, 0}))
	lengths := anydiff.NewConst(anyvec32.MakeVectorData([]float32{0.9, 0.1}))
	images := anydiff.NewConst(anyvec32.MakeVectorData([]float32{1, 0, 1, 0}))
	recon := anydiff.NewConst(anyvec32.MakeVectorData([]float32{0.5, 0.5, 1, 0}))

	// The margin term is zero, so only the scaled
	// mean-squared pixel error remains.
	expected := 5e-4 * (0.25 + 0.25) / 4
	actual := loss.Cost(desired, lengths, images, recon, 1).Output().Data().([]float32)
	if math.Abs(float64(actual[0])-expected) > 1e-7 {
		t.Errorf("expected %e but got %e", expected, actual[0])
	}
}

func TestMarginCostProp(t *testing.T) {
	loss := DefaultLoss()
	desired := anydiff.NewConst(anyvec32.MakeVectorData([]float32{
		1, 0, 0,
		0, 0, 1,
	}))
	lengths := anydiff.NewVar(anyvec32.MakeVectorData([]float32{
		0.5, 0.3, 0.2,
		0.4, 0.6, 0.7,
	}))
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return loss.MarginCost(desired, lengths, 2)
		},
		V: []*anydiff.Var{lengths},
	}
	checker.FullCheck(t)
}
