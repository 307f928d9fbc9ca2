// Package mocapsnet implements capsule networks with
// dynamic routing by agreement, including residual and
// momentum-residual compositions of routing layers.
//
// Capsule activations are packed the same way as any
// other batched vectors in anynet: each sample occupies
// numCaps*capsDim contiguous components, with the
// capsule dimension varying fastest.
package mocapsnet

import "github.com/unixpickle/anynet"

// A CapsuleLayer is a layer which consumes and produces
// batches of capsule vectors.
//
// Layers with matching input and output shapes can be
// composed residually or wrapped in a MomentumStack.
type CapsuleLayer interface {
	anynet.Layer

	// InputShape returns the number and dimension of the
	// capsules the layer consumes.
	InputShape() (caps, dim int)

	// OutputShape returns the number and dimension of the
	// capsules the layer produces.
	OutputShape() (caps, dim int)
}
