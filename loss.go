package mocapsnet

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
)

// Loss combines a margin loss over the class capsule
// lengths with a down-weighted reconstruction loss.
//
// For each class k with one-hot target T_k and capsule
// length ||v_k||, the margin term is
//
//	T_k * max(0, m+ - ||v_k||)^2 +
//	    Lambda * (1-T_k) * max(0, ||v_k|| - m-)^2
//
// summed over the classes.
type Loss struct {
	// PosMargin and NegMargin are m+ and m-.
	PosMargin float64
	NegMargin float64

	// Lambda down-weights the absent-class penalty so the
	// capsule lengths do not collapse early in training.
	Lambda float64

	// ReconScale scales the reconstruction error so it
	// acts as a regularizer rather than the objective.
	ReconScale float64
}

// DefaultLoss returns a Loss with the standard margins
// (0.9 and 0.1), Lambda of 0.5, and a reconstruction
// scale of 5e-4.
func DefaultLoss() *Loss {
	return &Loss{
		PosMargin:  0.9,
		NegMargin:  0.1,
		Lambda:     0.5,
		ReconScale: 5e-4,
	}
}

// Cost computes one cost value per sample.
//
// The desired argument packs one-hot class targets, the
// lengths argument packs per-class capsule lengths, and
// the images/reconstruction arguments pack the original
// and reconstructed pixels.
func (l *Loss) Cost(desired, lengths, images, reconstruction anydiff.Res,
	n int) anydiff.Res {
	c := lengths.Output().Creator()
	margin := l.MarginCost(desired, lengths, n)
	recon := anynet.MSE{}.Cost(images, reconstruction, n)
	return anydiff.Add(margin, anydiff.Scale(recon, c.MakeNumeric(l.ReconScale)))
}

// MarginCost computes the margin term alone, one cost
// value per sample.
func (l *Loss) MarginCost(desired, lengths anydiff.Res, n int) anydiff.Res {
	c := lengths.Output().Creator()
	return anydiff.Pool(desired, func(desired anydiff.Res) anydiff.Res {
		return anydiff.Pool(lengths, func(lengths anydiff.Res) anydiff.Res {
			present := anydiff.Square(anydiff.ClipPos(
				anydiff.AddScalar(
					anydiff.Scale(lengths, c.MakeNumeric(-1)),
					c.MakeNumeric(l.PosMargin),
				),
			))
			absent := anydiff.Square(anydiff.ClipPos(
				anydiff.AddScalar(lengths, c.MakeNumeric(-l.NegMargin)),
			))
			perClass := anydiff.Add(
				anydiff.Mul(desired, present),
				anydiff.Scale(
					anydiff.Mul(anydiff.Complement(desired), absent),
					c.MakeNumeric(l.Lambda),
				),
			)
			return anydiff.SumCols(&anydiff.Matrix{
				Data: perClass,
				Rows: n,
				Cols: perClass.Output().Len() / n,
			})
		})
	})
}
