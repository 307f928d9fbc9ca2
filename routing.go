package mocapsnet

import (
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var r RoutingCapsules
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeRoutingCapsules)
}

// RoutingCapsules transforms one batch of capsules into
// another using dynamic routing by agreement.
//
// Each (input, output) capsule pair has its own learned
// linear map, stored in Weights with the layout
// [InCaps][OutCaps*OutDim][InDim].
// The coupling logits are not parameters: they are
// reallocated at zero for every Apply call and refined
// for a fixed number of iterations.
type RoutingCapsules struct {
	InCaps  int
	InDim   int
	OutCaps int
	OutDim  int

	// Iterations is the fixed number of routing
	// iterations. It must be at least 1.
	Iterations int

	Weights *anydiff.Var
}

// DeserializeRoutingCapsules deserializes a
// RoutingCapsules.
func DeserializeRoutingCapsules(d []byte) (*RoutingCapsules, error) {
	var inCaps, inDim, outCaps, outDim, iters serializer.Int
	var weights *anyvecsave.S
	err := serializer.DeserializeAny(d, &inCaps, &inDim, &outCaps, &outDim,
		&iters, &weights)
	if err != nil {
		return nil, essentials.AddCtx("deserialize RoutingCapsules", err)
	}
	res := &RoutingCapsules{
		InCaps:     int(inCaps),
		InDim:      int(inDim),
		OutCaps:    int(outCaps),
		OutDim:     int(outDim),
		Iterations: int(iters),
		Weights:    anydiff.NewVar(weights.Vector),
	}
	if res.Iterations < 1 {
		return nil, errors.New("deserialize RoutingCapsules: bad iteration count")
	}
	expected := res.InCaps * res.InDim * res.OutCaps * res.OutDim
	if weights.Vector.Len() != expected {
		return nil, errors.New("deserialize RoutingCapsules: bad weight count")
	}
	return res, nil
}

// NewRoutingCapsules creates a randomized layer which
// routes inCaps capsules of dimension inDim to outCaps
// capsules of dimension outDim over the given number of
// routing iterations.
func NewRoutingCapsules(c anyvec.Creator, inCaps, inDim, outCaps, outDim,
	iterations int) *RoutingCapsules {
	if iterations < 1 {
		panic(fmt.Sprintf("iteration count must be at least 1, got %d", iterations))
	}
	res := &RoutingCapsules{
		InCaps:     inCaps,
		InDim:      inDim,
		OutCaps:    outCaps,
		OutDim:     outDim,
		Iterations: iterations,
		Weights:    anydiff.NewVar(c.MakeVector(inCaps * inDim * outCaps * outDim)),
	}
	anyvec.Rand(res.Weights.Vector, anyvec.Normal, nil)
	res.Weights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(inDim))))
	return res
}

// InputShape returns the input capsule count and
// dimension.
func (r *RoutingCapsules) InputShape() (caps, dim int) {
	return r.InCaps, r.InDim
}

// OutputShape returns the output capsule count and
// dimension.
func (r *RoutingCapsules) OutputShape() (caps, dim int) {
	return r.OutCaps, r.OutDim
}

// Apply routes a batch of input capsules and returns the
// squashed output capsules, packed as batchSize vectors
// of OutCaps*OutDim components.
func (r *RoutingCapsules) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if in.Output().Len() != batchSize*r.InCaps*r.InDim {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			batchSize*r.InCaps*r.InDim, in.Output().Len()))
	}
	return anydiff.Pool(r.predictions(in, batchSize), func(u anydiff.Res) anydiff.Res {
		return r.route(u, batchSize)
	})
}

// predictions computes the prediction vectors
// u_hat[i,b,j] = W[i,j] * x[b,i], laid out as
// [InCaps][batch][OutCaps*OutDim].
//
// The packed batch is transposed once so that the slice
// for each input capsule is contiguous, then one matrix
// product per input capsule covers the whole batch.
func (r *RoutingCapsules) predictions(in anydiff.Res, batchSize int) anydiff.Res {
	transposed := anydiff.Transpose(&anydiff.Matrix{
		Data: in,
		Rows: batchSize,
		Cols: r.InCaps * r.InDim,
	}).Data
	return anydiff.Pool(transposed, func(transposed anydiff.Res) anydiff.Res {
		weightSize := r.OutCaps * r.OutDim * r.InDim
		chunks := make([]anydiff.Res, 0, r.InCaps)
		for i := 0; i < r.InCaps; i++ {
			x := &anydiff.Matrix{
				Data: anydiff.Slice(transposed, i*r.InDim*batchSize,
					(i+1)*r.InDim*batchSize),
				Rows: r.InDim,
				Cols: batchSize,
			}
			w := &anydiff.Matrix{
				Data: anydiff.Slice(r.Weights, i*weightSize, (i+1)*weightSize),
				Rows: r.OutCaps * r.OutDim,
				Cols: r.InDim,
			}
			chunks = append(chunks, anydiff.MatMul(true, true, x, w).Data)
		}
		return anydiff.Concat(chunks...)
	})
}

// route runs the fixed-iteration routing loop over the
// prediction vectors and returns the final output
// capsules, packed batch-major.
func (r *RoutingCapsules) route(u anydiff.Res, batchSize int) anydiff.Res {
	c := u.Output().Creator()

	// Coupling logits are scratch state scoped to this
	// call: one zero-initialized value per
	// (input capsule, sample, output capsule) triple.
	logits := anydiff.NewConst(c.MakeVector(r.InCaps * batchSize * r.OutCaps))

	return r.routeStep(u, logits, batchSize, r.Iterations)
}

func (r *RoutingCapsules) routeStep(u, logits anydiff.Res, batchSize,
	remaining int) anydiff.Res {
	return anydiff.Pool(logits, func(logits anydiff.Res) anydiff.Res {
		coupling := anydiff.Exp(anydiff.LogSoftmax(logits, r.OutCaps))
		weighted := anydiff.Mul(expandComponents(coupling, r.OutDim), u)
		output := Squash(sumChunks(weighted, r.InCaps), r.OutDim)
		if remaining == 1 {
			// The agreement update would only influence the
			// next iteration's coupling, so it is skipped.
			return output
		}
		agreement := anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Mul(u, tileChunks(output, r.InCaps)),
			Rows: r.InCaps * batchSize * r.OutCaps,
			Cols: r.OutDim,
		})
		return r.routeStep(u, anydiff.Add(logits, agreement), batchSize, remaining-1)
	})
}

// Parameters returns a slice containing the weight
// variable.
func (r *RoutingCapsules) Parameters() []*anydiff.Var {
	return []*anydiff.Var{r.Weights}
}

// SerializerType returns the unique ID used to serialize
// a RoutingCapsules with the serializer package.
func (r *RoutingCapsules) SerializerType() string {
	return "github.com/TolerantChief/MoCapsNet.RoutingCapsules"
}

// Serialize serializes the layer.
func (r *RoutingCapsules) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(r.InCaps),
		serializer.Int(r.InDim),
		serializer.Int(r.OutCaps),
		serializer.Int(r.OutDim),
		serializer.Int(r.Iterations),
		&anyvecsave.S{Vector: r.Weights.Vector},
	)
}
