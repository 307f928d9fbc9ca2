package mocapsnet

import (
	"fmt"

	"github.com/unixpickle/anydiff"
)

// squashEpsilon keeps the squash normalizer finite for
// zero-norm capsule vectors.
const squashEpsilon = 1e-8

// Squash applies the capsule squashing non-linearity to
// every chunk of vecLen components:
//
//	v = (||s||^2 / (1 + ||s||^2)) * (s / ||s||)
//
// The resulting vectors keep their direction and have
// lengths in [0, 1).
// The norm is epsilon-guarded, so zero vectors map to
// zero vectors instead of NaN.
func Squash(in anydiff.Res, vecLen int) anydiff.Res {
	if vecLen <= 0 {
		panic(fmt.Sprintf("invalid vector length: %d", vecLen))
	}
	if in.Output().Len()%vecLen != 0 {
		panic(fmt.Sprintf("vector length %d must divide input length %d",
			vecLen, in.Output().Len()))
	}
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		c := in.Output().Creator()
		numVecs := in.Output().Len() / vecLen
		sqNorms := anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Square(in),
			Rows: numVecs,
			Cols: vecLen,
		})
		return anydiff.Pool(sqNorms, func(sqNorms anydiff.Res) anydiff.Res {
			normalizer := anydiff.Pow(
				anydiff.AddScalar(sqNorms, c.MakeNumeric(squashEpsilon)),
				c.MakeNumeric(-0.5),
			)
			shrinker := anydiff.Pow(
				anydiff.AddScalar(sqNorms, c.MakeNumeric(1)),
				c.MakeNumeric(-1),
			)
			scalers := anydiff.Mul(sqNorms, anydiff.Mul(normalizer, shrinker))
			return anydiff.Mul(expandComponents(scalers, vecLen), in)
		})
	})
}

// expandComponents repeats each component of vec n times,
// turning per-chunk scalers into a mask which lines up
// with the chunks themselves.
func expandComponents(vec anydiff.Res, n int) anydiff.Res {
	return anydiff.MatMul(
		false, false,
		&anydiff.Matrix{Data: vec, Rows: vec.Output().Len(), Cols: 1},
		&anydiff.Matrix{Data: onesConst(vec, n), Rows: 1, Cols: n},
	).Data
}

// tileChunks repeats the entire vector n times.
func tileChunks(vec anydiff.Res, n int) anydiff.Res {
	return anydiff.MatMul(
		false, false,
		&anydiff.Matrix{Data: onesConst(vec, n), Rows: n, Cols: 1},
		&anydiff.Matrix{Data: vec, Rows: 1, Cols: vec.Output().Len()},
	).Data
}

// sumChunks splits the vector into n equal chunks and
// sums them component-wise.
func sumChunks(vec anydiff.Res, n int) anydiff.Res {
	return anydiff.MatMul(
		false, false,
		&anydiff.Matrix{Data: onesConst(vec, n), Rows: 1, Cols: n},
		&anydiff.Matrix{Data: vec, Rows: n, Cols: vec.Output().Len() / n},
	).Data
}

func onesConst(vec anydiff.Res, n int) anydiff.Res {
	c := vec.Output().Creator()
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(ones)))
}
