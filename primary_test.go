package mocapsnet

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
)

func TestPrimaryCapsulesShape(t *testing.T) {
	layer := NewPrimaryCapsules(anyvec32.DefaultCreator{}, 10, 10, 3, 8, 4, 3, 2)
	if caps, dim := layer.OutputShape(); caps != 4*4*8/4 || dim != 4 {
		t.Errorf("expected shape %dx%d, but got %dx%d", 4*4*8/4, 4, caps, dim)
	}
	in := anydiff.NewConst(anyvec32.MakeVector(2 * 10 * 10 * 3))
	out := layer.Apply(in, 2)
	if out.Output().Len() != 2*4*4*8 {
		t.Errorf("output length should be %d, but got %d", 2*4*4*8,
			out.Output().Len())
	}
}

func TestPrimaryCapsulesBounds(t *testing.T) {
	layer := NewPrimaryCapsules(anyvec32.DefaultCreator{}, 6, 6, 1, 8, 4, 3, 1)
	inData := make([]float32, 6*6)
	for i := range inData {
		inData[i] = float32(i%5) - 2
	}
	in := anydiff.NewConst(anyvec32.MakeVectorData(inData))
	out := layer.Apply(in, 1).Output().Data().([]float32)
	for i := 0; i < len(out); i += 4 {
		var norm float64
		for _, x := range out[i : i+4] {
			norm += float64(x) * float64(x)
		}
		if norm := math.Sqrt(norm); norm >= 1 {
			t.Errorf("capsule %d: norm %f should be less than 1", i/4, norm)
		}
	}
}

func TestPrimaryCapsulesBadDim(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for non-dividing capsule dimension")
		}
	}()
	NewPrimaryCapsules(anyvec32.DefaultCreator{}, 10, 10, 3, 8, 3, 3, 2)
}

func TestPrimaryCapsulesSerialize(t *testing.T) {
	layer := NewPrimaryCapsules(anyvec32.DefaultCreator{}, 10, 10, 3, 8, 4, 3, 2)
	data, err := serializer.SerializeAny(layer)
	if err != nil {
		t.Fatal(err)
	}
	var newLayer *PrimaryCapsules
	if err := serializer.DeserializeAny(data, &newLayer); err != nil {
		t.Fatal(err)
	}
	if newLayer.Conv.Conver == nil {
		t.Fatal("no conver set")
	}

	// Set for deep equal.
	newLayer.Conv.Conver = layer.Conv.Conver
	if !reflect.DeepEqual(layer, newLayer) {
		t.Fatal("layers differ")
	}
}
