// Package capstrain provides tools for training capsule
// networks with SGD.
package capstrain

import (
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
)

// A Sample is a labeled training image.
type Sample struct {
	// Image packs the pixels the way the network's stem
	// convolution expects them (row-major depth-minor).
	Image anyvec.Vector

	// Label is the class index.
	Label int
}

// A SampleList is an anysgd.SampleList that produces
// labeled images.
type SampleList interface {
	anysgd.SampleList

	GetSample(idx int) (*Sample, error)
}

// A SliceSampleList is a concrete SampleList with
// predetermined samples.
type SliceSampleList []*Sample

// Len returns the number of samples.
func (s SliceSampleList) Len() int {
	return len(s)
}

// Swap swaps two samples.
func (s SliceSampleList) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Slice copies a sub-slice of the list.
func (s SliceSampleList) Slice(i, j int) anysgd.SampleList {
	return append(SliceSampleList{}, s[i:j]...)
}

// GetSample returns the sample at the index.
func (s SliceSampleList) GetSample(idx int) (*Sample, error) {
	return s[idx], nil
}

// OneHot creates a one-hot vector with the given
// component set.
func OneHot(c anyvec.Creator, label, size int) anyvec.Vector {
	data := make([]float64, size)
	data[label] = 1
	return c.MakeVectorData(c.MakeNumericList(data))
}
