package mocapsnet

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var p PrimaryCapsules
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializePrimaryCapsules)
}

// PrimaryCapsules turns a convolutional feature map into
// the first batch of capsule vectors.
//
// The convolution produces depth-minor tensors, so every
// group of CapsDim consecutive channels at one spatial
// position is already a contiguous capsule vector; the
// layer only has to squash them.
type PrimaryCapsules struct {
	Conv    *anyconv.Conv
	CapsDim int
}

// DeserializePrimaryCapsules deserializes a
// PrimaryCapsules.
func DeserializePrimaryCapsules(d []byte) (*PrimaryCapsules, error) {
	var conv *anyconv.Conv
	var capsDim serializer.Int
	if err := serializer.DeserializeAny(d, &conv, &capsDim); err != nil {
		return nil, essentials.AddCtx("deserialize PrimaryCapsules", err)
	}
	return &PrimaryCapsules{Conv: conv, CapsDim: int(capsDim)}, nil
}

// NewPrimaryCapsules creates a randomized layer which
// convolves inWidth x inHeight x inDepth feature maps
// into channels output maps and groups them into
// capsules of dimension capsDim.
//
// The capsule dimension must divide the channel count.
func NewPrimaryCapsules(c anyvec.Creator, inWidth, inHeight, inDepth, channels,
	capsDim, kernelSize, stride int) *PrimaryCapsules {
	if capsDim <= 0 || channels%capsDim != 0 {
		panic(fmt.Sprintf("capsule dimension %d must divide channel count %d",
			capsDim, channels))
	}
	conv := &anyconv.Conv{
		FilterCount:  channels,
		FilterWidth:  kernelSize,
		FilterHeight: kernelSize,
		StrideX:      stride,
		StrideY:      stride,
		InputWidth:   inWidth,
		InputHeight:  inHeight,
		InputDepth:   inDepth,
	}
	conv.InitRand(c)
	return &PrimaryCapsules{Conv: conv, CapsDim: capsDim}
}

// NumCaps returns the number of capsules the layer
// produces per sample.
func (p *PrimaryCapsules) NumCaps() int {
	return p.Conv.OutputWidth() * p.Conv.OutputHeight() *
		p.Conv.OutputDepth() / p.CapsDim
}

// OutputShape returns the capsule count and dimension of
// the layer's output.
func (p *PrimaryCapsules) OutputShape() (caps, dim int) {
	return p.NumCaps(), p.CapsDim
}

// Apply convolves a batch of feature maps and squashes
// the resulting capsule vectors.
func (p *PrimaryCapsules) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	return Squash(p.Conv.Apply(in, batchSize), p.CapsDim)
}

// Parameters returns the convolution's parameters.
func (p *PrimaryCapsules) Parameters() []*anydiff.Var {
	return p.Conv.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a PrimaryCapsules with the serializer package.
func (p *PrimaryCapsules) SerializerType() string {
	return "github.com/TolerantChief/MoCapsNet.PrimaryCapsules"
}

// Serialize serializes the layer.
func (p *PrimaryCapsules) Serialize() ([]byte, error) {
	return serializer.SerializeAny(p.Conv, serializer.Int(p.CapsDim))
}
