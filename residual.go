package mocapsnet

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var r ResCapsBlock
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeResCapsBlock)
	var m MomentumStack
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeMomentumStack)
}

// ResCapsBlock composes two routing layers, optionally
// with an additive shortcut around the pair:
//
//	out = x + second(first(x))
//
// The shortcut requires the block to map capsules to an
// identically-shaped set of capsules.
type ResCapsBlock struct {
	First  *RoutingCapsules
	Second *RoutingCapsules
	Skip   bool
}

// DeserializeResCapsBlock deserializes a ResCapsBlock.
func DeserializeResCapsBlock(d []byte) (*ResCapsBlock, error) {
	var first, second *RoutingCapsules
	var skip serializer.Int
	if err := serializer.DeserializeAny(d, &first, &second, &skip); err != nil {
		return nil, essentials.AddCtx("deserialize ResCapsBlock", err)
	}
	res, err := BlockFromLayers(first, second, skip == 1)
	if err != nil {
		return nil, essentials.AddCtx("deserialize ResCapsBlock", err)
	}
	return res, nil
}

// NewResCapsBlock creates a block of two randomized
// routing layers mapping caps capsules of dimension dim
// to an equal number of capsules of the same dimension.
func NewResCapsBlock(c anyvec.Creator, caps, dim, iterations int,
	skip bool) *ResCapsBlock {
	return &ResCapsBlock{
		First:  NewRoutingCapsules(c, caps, dim, caps, dim, iterations),
		Second: NewRoutingCapsules(c, caps, dim, caps, dim, iterations),
		Skip:   skip,
	}
}

// BlockFromLayers wraps two existing routing layers in a
// block.
//
// The layers must compose, and if skip is true the
// composition must preserve the capsule shape so the
// shortcut sum is well-defined.
func BlockFromLayers(first, second *RoutingCapsules, skip bool) (*ResCapsBlock, error) {
	if first.OutCaps != second.InCaps || first.OutDim != second.InDim {
		return nil, fmt.Errorf("block layers do not compose: "+
			"%dx%d output vs %dx%d input", first.OutCaps, first.OutDim,
			second.InCaps, second.InDim)
	}
	if skip && (first.InCaps != second.OutCaps || first.InDim != second.OutDim) {
		return nil, fmt.Errorf("shortcut needs matching shapes: "+
			"%dx%d input vs %dx%d output", first.InCaps, first.InDim,
			second.OutCaps, second.OutDim)
	}
	return &ResCapsBlock{First: first, Second: second, Skip: skip}, nil
}

// InputShape returns the capsule count and dimension the
// block consumes.
func (r *ResCapsBlock) InputShape() (caps, dim int) {
	return r.First.InputShape()
}

// OutputShape returns the capsule count and dimension the
// block produces.
func (r *ResCapsBlock) OutputShape() (caps, dim int) {
	return r.Second.OutputShape()
}

// Apply applies the block, including the shortcut if one
// is configured.
func (r *ResCapsBlock) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if !r.Skip {
		return r.Function(in, batchSize)
	}
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		return anydiff.Add(in, r.Function(in, batchSize))
	})
}

// Function applies the block's two-stage routing function
// without the shortcut.
// This is the function a MomentumStack accumulates.
func (r *ResCapsBlock) Function(in anydiff.Res, batchSize int) anydiff.Res {
	return r.Second.Apply(r.First.Apply(in, batchSize), batchSize)
}

// Parameters returns the parameters of both routing
// layers, first layer first.
func (r *ResCapsBlock) Parameters() []*anydiff.Var {
	return append(r.First.Parameters(), r.Second.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a ResCapsBlock with the serializer package.
func (r *ResCapsBlock) SerializerType() string {
	return "github.com/TolerantChief/MoCapsNet.ResCapsBlock"
}

// Serialize serializes the block.
func (r *ResCapsBlock) Serialize() ([]byte, error) {
	skip := serializer.Int(0)
	if r.Skip {
		skip = 1
	}
	return serializer.SerializeAny(r.First, r.Second, skip)
}

// MomentumStack applies a sequence of blocks with a
// momentum-accumulated shortcut instead of a per-block
// one:
//
//	velocity = gamma*velocity + f(x)
//	x = x + velocity
//
// where f is each block's two-stage function.
// The velocity starts at zero and is carried across the
// whole sequence.
type MomentumStack struct {
	Blocks []*ResCapsBlock
	Gamma  float64
}

// DeserializeMomentumStack deserializes a MomentumStack.
func DeserializeMomentumStack(d []byte) (*MomentumStack, error) {
	var blocks []byte
	var gamma serializer.Float64
	if err := serializer.DeserializeAny(d, &blocks, &gamma); err != nil {
		return nil, essentials.AddCtx("deserialize MomentumStack", err)
	}
	slice, err := serializer.DeserializeSlice(blocks)
	if err != nil {
		return nil, essentials.AddCtx("deserialize MomentumStack", err)
	}
	res := &MomentumStack{Gamma: float64(gamma)}
	for _, x := range slice {
		block, ok := x.(*ResCapsBlock)
		if !ok {
			return nil, fmt.Errorf("deserialize MomentumStack: not a ResCapsBlock: %T", x)
		}
		res.Blocks = append(res.Blocks, block)
	}
	return res, nil
}

// InputShape returns the capsule count and dimension the
// stack consumes.
// The stack must not be empty.
func (m *MomentumStack) InputShape() (caps, dim int) {
	return m.Blocks[0].InputShape()
}

// OutputShape returns the capsule count and dimension the
// stack produces.
// The stack must not be empty.
func (m *MomentumStack) OutputShape() (caps, dim int) {
	return m.Blocks[len(m.Blocks)-1].OutputShape()
}

// Apply applies the stack to a batch of capsules.
// An empty stack is the identity.
func (m *MomentumStack) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	out, _ := m.Forward(in, batchSize)
	return out
}

// Forward applies the stack, returning its output along
// with the activation after every block.
// The per-block activations are meant for diagnostics;
// gradients should be propagated through the output.
func (m *MomentumStack) Forward(in anydiff.Res, batchSize int) (anydiff.Res, []anydiff.Res) {
	c := in.Output().Creator()
	velocity := anydiff.NewConst(c.MakeVector(in.Output().Len()))
	var hidden []anydiff.Res
	out := m.forward(in, velocity, batchSize, 0, &hidden)
	return out, hidden
}

func (m *MomentumStack) forward(in, velocity anydiff.Res, batchSize, idx int,
	hidden *[]anydiff.Res) anydiff.Res {
	if idx == len(m.Blocks) {
		return in
	}
	c := in.Output().Creator()
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		step := anydiff.Add(
			anydiff.Scale(velocity, c.MakeNumeric(m.Gamma)),
			m.Blocks[idx].Function(in, batchSize),
		)
		return anydiff.Pool(step, func(step anydiff.Res) anydiff.Res {
			out := anydiff.Add(in, step)
			*hidden = append(*hidden, out)
			return m.forward(out, step, batchSize, idx+1, hidden)
		})
	})
}

// Parameters returns the parameters of every block in
// order.
func (m *MomentumStack) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, b := range m.Blocks {
		res = append(res, b.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a MomentumStack with the serializer package.
func (m *MomentumStack) SerializerType() string {
	return "github.com/TolerantChief/MoCapsNet.MomentumStack"
}

// Serialize serializes the stack.
func (m *MomentumStack) Serialize() ([]byte, error) {
	var blockSlice []serializer.Serializer
	for _, b := range m.Blocks {
		blockSlice = append(blockSlice, b)
	}
	blocks, err := serializer.SerializeSlice(blockSlice)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(blocks, serializer.Float64(m.Gamma))
}
