package mocapsnet

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var n Network
	serializer.RegisterTypedDeserializer(n.SerializerType(), DeserializeNetwork)
}

// NetworkConfig configures NewNetwork.
// Zero fields (besides the image shape, class count,
// block count and the boolean switches) are replaced by
// defaults.
type NetworkConfig struct {
	ImageWidth  int
	ImageHeight int
	ImageDepth  int
	NumClasses  int

	// Channels is the feature map depth of the stem and
	// primary convolutions (default 256).
	Channels int

	// PrimaryDim is the dimension of the primary and
	// intermediate capsules (default 8).
	PrimaryDim int

	// HiddenCaps is the number of capsules between the two
	// routing stages (default 32).
	HiddenCaps int

	// OutDim is the dimension of the class capsules
	// (default 16).
	OutDim int

	// KernelSize is the side length of the stem and
	// primary convolution filters (default 9).
	KernelSize int

	// Iterations is the number of routing iterations in
	// every routing layer (default 3).
	Iterations int

	NumBlocks int

	// Residual enables the per-block additive shortcut.
	Residual bool

	// Momentum replaces per-block shortcuts with a
	// momentum-accumulated one across the block stack.
	Momentum bool

	// Gamma is the momentum term (default 0.9).
	Gamma float64

	// DecoderHidden1 and DecoderHidden2 are the sizes of
	// the reconstruction decoder's hidden layers
	// (defaults 512 and 1024).
	DecoderHidden1 int
	DecoderHidden2 int
}

func (n *NetworkConfig) fillDefaults() {
	if n.Channels == 0 {
		n.Channels = 256
	}
	if n.PrimaryDim == 0 {
		n.PrimaryDim = 8
	}
	if n.HiddenCaps == 0 {
		n.HiddenCaps = 32
	}
	if n.OutDim == 0 {
		n.OutDim = 16
	}
	if n.KernelSize == 0 {
		n.KernelSize = 9
	}
	if n.Iterations == 0 {
		n.Iterations = 3
	}
	if n.Gamma == 0 {
		n.Gamma = 0.9
	}
	if n.DecoderHidden1 == 0 {
		n.DecoderHidden1 = 512
	}
	if n.DecoderHidden2 == 0 {
		n.DecoderHidden2 = 1024
	}
}

// A Network classifies images with capsule lengths and
// reconstructs them from the winning class capsule.
type Network struct {
	ImageWidth  int
	ImageHeight int
	ImageDepth  int
	NumClasses  int

	Stem     *anyconv.Conv
	Primary  *PrimaryCapsules
	Caps1    *RoutingCapsules
	Blocks   []*ResCapsBlock
	Momentum bool
	Gamma    float64
	Caps2    *RoutingCapsules
	Decoder  anynet.Net
}

// DeserializeNetwork deserializes a Network.
func DeserializeNetwork(d []byte) (*Network, error) {
	var width, height, depth, classes, momentum serializer.Int
	var gamma serializer.Float64
	var stem *anyconv.Conv
	var primary *PrimaryCapsules
	var caps1, caps2 *RoutingCapsules
	var blockNet, decoder anynet.Net
	err := serializer.DeserializeAny(d, &width, &height, &depth, &classes,
		&momentum, &gamma, &stem, &primary, &caps1, &blockNet, &caps2, &decoder)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Network", err)
	}
	res := &Network{
		ImageWidth:  int(width),
		ImageHeight: int(height),
		ImageDepth:  int(depth),
		NumClasses:  int(classes),
		Stem:        stem,
		Primary:     primary,
		Caps1:       caps1,
		Momentum:    momentum == 1,
		Gamma:       float64(gamma),
		Caps2:       caps2,
		Decoder:     decoder,
	}
	for _, layer := range blockNet {
		block, ok := layer.(*ResCapsBlock)
		if !ok {
			return nil, fmt.Errorf("deserialize Network: not a ResCapsBlock: %T", layer)
		}
		res.Blocks = append(res.Blocks, block)
	}
	return res, nil
}

// NewNetwork creates a randomized capsule network.
//
// It panics if the configured image is too small for the
// stem and primary convolutions.
func NewNetwork(c anyvec.Creator, conf NetworkConfig) *Network {
	conf.fillDefaults()

	stem := &anyconv.Conv{
		FilterCount:  conf.Channels,
		FilterWidth:  conf.KernelSize,
		FilterHeight: conf.KernelSize,
		StrideX:      1,
		StrideY:      1,
		InputWidth:   conf.ImageWidth,
		InputHeight:  conf.ImageHeight,
		InputDepth:   conf.ImageDepth,
	}
	stem.InitRand(c)

	primary := NewPrimaryCapsules(c, stem.OutputWidth(), stem.OutputHeight(),
		stem.OutputDepth(), conf.Channels, conf.PrimaryDim, conf.KernelSize, 2)
	if primary.NumCaps() == 0 {
		panic(fmt.Sprintf("image %dx%d is too small for two %dx%d convolutions",
			conf.ImageWidth, conf.ImageHeight, conf.KernelSize, conf.KernelSize))
	}

	blocks := make([]*ResCapsBlock, conf.NumBlocks)
	for i := range blocks {
		blocks[i] = NewResCapsBlock(c, conf.HiddenCaps, conf.PrimaryDim,
			conf.Iterations, conf.Residual)
	}

	imageSize := conf.ImageWidth * conf.ImageHeight * conf.ImageDepth
	return &Network{
		ImageWidth:  conf.ImageWidth,
		ImageHeight: conf.ImageHeight,
		ImageDepth:  conf.ImageDepth,
		NumClasses:  conf.NumClasses,
		Stem:        stem,
		Primary:     primary,
		Caps1: NewRoutingCapsules(c, primary.NumCaps(), conf.PrimaryDim,
			conf.HiddenCaps, conf.PrimaryDim, conf.Iterations),
		Blocks:   blocks,
		Momentum: conf.Momentum,
		Gamma:    conf.Gamma,
		Caps2: NewRoutingCapsules(c, conf.HiddenCaps, conf.PrimaryDim,
			conf.NumClasses, conf.OutDim, conf.Iterations),
		Decoder: anynet.Net{
			anynet.NewFC(c, conf.NumClasses*conf.OutDim, conf.DecoderHidden1),
			anynet.ReLU,
			anynet.NewFC(c, conf.DecoderHidden1, conf.DecoderHidden2),
			anynet.ReLU,
			anynet.NewFC(c, conf.DecoderHidden2, imageSize),
			anynet.Sigmoid,
		},
	}
}

// features runs the network up through the class
// capsules, returning them along with the activation
// after every block.
func (n *Network) features(images anydiff.Res, batchSize int) (anydiff.Res, []anydiff.Res) {
	out := anynet.ReLU.Apply(n.Stem.Apply(images, batchSize), batchSize)
	out = n.Primary.Apply(out, batchSize)
	out = n.Caps1.Apply(out, batchSize)
	var hidden []anydiff.Res
	if n.Momentum {
		stack := &MomentumStack{Blocks: n.Blocks, Gamma: n.Gamma}
		out, hidden = stack.Forward(out, batchSize)
	} else {
		for _, b := range n.Blocks {
			out = b.Apply(out, batchSize)
			hidden = append(hidden, out)
		}
	}
	return n.Caps2.Apply(out, batchSize), hidden
}

// Forward runs the network on a batch of images.
//
// It returns the per-class capsule lengths, the images
// reconstructed from each sample's longest class capsule,
// and the capsule activations after every residual block
// (for diagnostics).
func (n *Network) Forward(images anydiff.Res, batchSize int) (lengths,
	reconstruction anydiff.Res, hidden []anydiff.Res) {
	caps, hidden := n.features(images, batchSize)
	lengths = CapsuleLengths(caps, n.Caps2.OutDim)
	mask := n.classMask(lengths.Output(), batchSize)
	reconstruction = n.Decoder.Apply(anydiff.Mul(caps, mask), batchSize)
	return
}

// Apply runs the classification path only, producing the
// per-class capsule lengths for each sample.
func (n *Network) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	caps, _ := n.features(in, batchSize)
	return CapsuleLengths(caps, n.Caps2.OutDim)
}

// Classify returns the predicted class index for every
// sample in the batch.
func (n *Network) Classify(images anydiff.Res, batchSize int) []int {
	lengths := n.Apply(images, batchSize).Output()
	res := make([]int, batchSize)
	for i := range res {
		row := lengths.Slice(i*n.NumClasses, (i+1)*n.NumClasses)
		res[i] = anyvec.MaxIndex(row)
	}
	return res
}

// classMask builds the reconstruction mask for a batch,
// selecting each sample's longest class capsule.
// Ties go to the lowest class index, matching the scan
// order of anyvec.MaxIndex.
func (n *Network) classMask(lengths anyvec.Vector, batchSize int) anydiff.Res {
	c := lengths.Creator()
	outDim := n.Caps2.OutDim
	mask := make([]float64, batchSize*n.NumClasses*outDim)
	for i := 0; i < batchSize; i++ {
		row := lengths.Slice(i*n.NumClasses, (i+1)*n.NumClasses)
		class := anyvec.MaxIndex(row)
		start := (i*n.NumClasses + class) * outDim
		for j := 0; j < outDim; j++ {
			mask[start+j] = 1
		}
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(mask)))
}

// Parameters returns the parameters of every trainable
// component, ordered from the stem onwards.
func (n *Network) Parameters() []*anydiff.Var {
	res := n.Stem.Parameters()
	res = append(res, n.Primary.Parameters()...)
	res = append(res, n.Caps1.Parameters()...)
	for _, b := range n.Blocks {
		res = append(res, b.Parameters()...)
	}
	res = append(res, n.Caps2.Parameters()...)
	return append(res, n.Decoder.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a Network with the serializer package.
func (n *Network) SerializerType() string {
	return "github.com/TolerantChief/MoCapsNet.Network"
}

// Serialize serializes the network.
func (n *Network) Serialize() ([]byte, error) {
	momentum := serializer.Int(0)
	if n.Momentum {
		momentum = 1
	}
	blockNet := make(anynet.Net, len(n.Blocks))
	for i, b := range n.Blocks {
		blockNet[i] = b
	}
	return serializer.SerializeAny(
		serializer.Int(n.ImageWidth),
		serializer.Int(n.ImageHeight),
		serializer.Int(n.ImageDepth),
		serializer.Int(n.NumClasses),
		momentum,
		serializer.Float64(n.Gamma),
		n.Stem,
		n.Primary,
		n.Caps1,
		blockNet,
		n.Caps2,
		n.Decoder,
	)
}

// CapsuleLengths computes the Euclidean length of every
// chunk of dim components.
// The result has one component per capsule and is
// epsilon-guarded so zero capsules produce (near) zero
// lengths rather than undefined gradients.
func CapsuleLengths(caps anydiff.Res, dim int) anydiff.Res {
	if caps.Output().Len()%dim != 0 {
		panic(fmt.Sprintf("vector length %d must divide input length %d",
			dim, caps.Output().Len()))
	}
	c := caps.Output().Creator()
	sq := anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Square(caps),
		Rows: caps.Output().Len() / dim,
		Cols: dim,
	})
	return anydiff.Pow(anydiff.AddScalar(sq, c.MakeNumeric(squashEpsilon)),
		c.MakeNumeric(0.5))
}
