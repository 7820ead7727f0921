// Package model holds the learned square classifier.
package model

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/thyrook/fenvision/internal/board"
)

// PatchSize is the side of the grayscale patch the network reads.
const PatchSize = 32

// NumClasses is one output per entry of board.AllSymbols.
const NumClasses = len(board.AllSymbols)

// hiddenSize is the width of the dense layer between the convolutions and
// the class scores.
const hiddenSize = 64

// PatchNet is a small CNN that maps a PatchSize x PatchSize grayscale patch
// to a probability per board.AllSymbols entry: two conv/relu/pool blocks
// (8 and 16 channels) followed by a hidden dense layer and a softmax.
type PatchNet struct {
	g      *gorgonia.ExprGraph
	input  *gorgonia.Node
	output *gorgonia.Node
	params gorgonia.Nodes
	vm     gorgonia.VM

	batchSize int
}

// NewPatchNet creates a network for batches of batchSize patches.
func NewPatchNet(batchSize int) (*PatchNet, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("invalid batch size: %d", batchSize)
	}

	pn, err := buildPatchNet(batchSize)
	if err != nil {
		return nil, err
	}
	pn.vm = gorgonia.NewTapeMachine(pn.g)
	return pn, nil
}

// layers records every learnable node it creates, in creation order.
type layers struct {
	g      *gorgonia.ExprGraph
	params gorgonia.Nodes
}

func (l *layers) param(name string, init gorgonia.InitWFn, shape ...int) *gorgonia.Node {
	n := gorgonia.NewTensor(l.g, tensor.Float64, len(shape),
		gorgonia.WithShape(shape...), gorgonia.WithName(name), gorgonia.WithInit(init))
	l.params = append(l.params, n)
	return n
}

// conv adds a 3x3 same-padded convolution with bias, relu and a 2x2 pool.
func (l *layers) conv(x *gorgonia.Node, name string, in, out int) (*gorgonia.Node, error) {
	w := l.param(name+"_w", gorgonia.GlorotU(1.0), out, in, 3, 3)
	b := l.param(name+"_b", gorgonia.Zeroes(), out)

	y, err := gorgonia.Conv2d(x, w, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if y, err = gorgonia.BroadcastAdd(y, b, nil, []byte{0, 2, 3}); err != nil {
		return nil, fmt.Errorf("%s bias: %w", name, err)
	}
	if y, err = gorgonia.Rectify(y); err != nil {
		return nil, fmt.Errorf("%s relu: %w", name, err)
	}
	if y, err = gorgonia.MaxPool2D(y, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
		return nil, fmt.Errorf("%s pool: %w", name, err)
	}
	return y, nil
}

// dense adds x*W+b, optionally followed by relu.
func (l *layers) dense(x *gorgonia.Node, name string, in, out int, relu bool) (*gorgonia.Node, error) {
	w := l.param(name+"_w", gorgonia.GlorotU(1.0), in, out)
	b := l.param(name+"_b", gorgonia.Zeroes(), out)

	y, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if y, err = gorgonia.BroadcastAdd(y, b, nil, []byte{0}); err != nil {
		return nil, fmt.Errorf("%s bias: %w", name, err)
	}
	if relu {
		if y, err = gorgonia.Rectify(y); err != nil {
			return nil, fmt.Errorf("%s relu: %w", name, err)
		}
	}
	return y, nil
}

func buildPatchNet(batchSize int) (*PatchNet, error) {
	l := &layers{g: gorgonia.NewGraph()}
	input := gorgonia.NewTensor(l.g, tensor.Float64, 4,
		gorgonia.WithShape(batchSize, 1, PatchSize, PatchSize), gorgonia.WithName("input"))

	x, err := l.conv(input, "conv1", 1, 8)
	if err != nil {
		return nil, err
	}
	if x, err = l.conv(x, "conv2", 8, 16); err != nil {
		return nil, err
	}

	flatSize := 16 * (PatchSize / 4) * (PatchSize / 4)
	if x, err = gorgonia.Reshape(x, tensor.Shape{batchSize, flatSize}); err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	if x, err = l.dense(x, "fc1", flatSize, hiddenSize, true); err != nil {
		return nil, err
	}
	if x, err = l.dense(x, "fc2", hiddenSize, NumClasses, false); err != nil {
		return nil, err
	}
	output, err := gorgonia.SoftMax(x)
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}

	return &PatchNet{
		g:         l.g,
		input:     input,
		output:    output,
		params:    l.params,
		batchSize: batchSize,
	}, nil
}

// Predict runs one forward pass. batch holds batchSize patches of
// PatchSize*PatchSize values in 0-1, row-major. The result holds
// NumClasses probabilities per patch.
func (pn *PatchNet) Predict(batch []float64) ([]float64, error) {
	want := pn.batchSize * PatchSize * PatchSize
	if len(batch) != want {
		return nil, fmt.Errorf("invalid input size: expected %d, got %d", want, len(batch))
	}

	inputTensor := tensor.New(
		tensor.WithShape(pn.batchSize, 1, PatchSize, PatchSize),
		tensor.WithBacking(batch),
	)
	if err := gorgonia.Let(pn.input, inputTensor); err != nil {
		return nil, fmt.Errorf("failed to set input: %w", err)
	}

	defer pn.vm.Reset()
	if err := pn.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	outputValue := pn.output.Value()
	if outputValue == nil {
		return nil, fmt.Errorf("output is nil")
	}

	out := make([]float64, pn.batchSize*NumClasses)
	copy(out, outputValue.Data().([]float64))
	return out, nil
}

// Learnables returns the weights and biases in layer order.
func (pn *PatchNet) Learnables() gorgonia.Nodes {
	return pn.params
}

// ComputeLoss returns the summed categorical cross-entropy against a one-hot
// target of shape batchSize x NumClasses.
func (pn *PatchNet) ComputeLoss(target *gorgonia.Node) (*gorgonia.Node, error) {
	logProbs, err := gorgonia.Log(pn.output)
	if err != nil {
		return nil, err
	}
	prod, err := gorgonia.HadamardProd(target, logProbs)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(prod)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(sum)
}

// weightFile is the gob layout of a saved PatchNet.
type weightFile struct {
	Classes   int
	PatchSize int
	Params    []savedParam
}

type savedParam struct {
	Name  string
	Shape []int
	Data  []float64
}

// Save writes the weights to path, creating its directory.
func (pn *PatchNet) Save(path string) error {
	wf := weightFile{Classes: NumClasses, PatchSize: PatchSize}
	for _, node := range pn.params {
		val := node.Value()
		if val == nil {
			return fmt.Errorf("parameter %s has no value", node.Name())
		}
		data := make([]float64, val.Shape().TotalSize())
		copy(data, val.Data().([]float64))
		wf.Params = append(wf.Params, savedParam{Name: node.Name(), Shape: val.Shape().Clone(), Data: data})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&wf); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	return f.Close()
}

// Load reads weights written by Save. The batch size may differ.
func (pn *PatchNet) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var wf weightFile
	if err := gob.NewDecoder(f).Decode(&wf); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if wf.Classes != NumClasses || wf.PatchSize != PatchSize {
		return fmt.Errorf("%s: model for %d classes of %dpx patches, want %d of %dpx",
			path, wf.Classes, wf.PatchSize, NumClasses, PatchSize)
	}

	saved := make(map[string]savedParam, len(wf.Params))
	for _, p := range wf.Params {
		saved[p.Name] = p
	}
	for _, node := range pn.params {
		p, ok := saved[node.Name()]
		if !ok {
			return fmt.Errorf("%s: missing parameter %s", path, node.Name())
		}
		if shape := tensor.Shape(p.Shape); !shape.Eq(node.Shape()) {
			return fmt.Errorf("%s: weight shape %v does not match %v", node.Name(), shape, node.Shape())
		}
		t := tensor.New(tensor.WithShape(p.Shape...), tensor.WithBacking(p.Data))
		if err := gorgonia.Let(node, t); err != nil {
			return fmt.Errorf("failed to set %s: %w", node.Name(), err)
		}
	}
	return nil
}

// Close releases the VM.
func (pn *PatchNet) Close() error {
	return pn.vm.Close()
}

// ModelExists reports whether a weight file exists at path.
func ModelExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
