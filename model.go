package kdcode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// DefaultModelPath is where the process-wide correction model artifact is
// looked up. A missing artifact is not an error; decoding degrades to plain
// threshold correction.
var DefaultModelPath = "models/kdcode-corrector.kdm"

const (
	modelMagic   = "KDCM"
	modelVersion = 1

	forestTrees    = 25
	forestMaxDepth = 5
	forestMinLeaf  = 10
)

// CorrectionModel is a bagged ensemble of shallow decision trees trained on
// synthetic scan noise. It is immutable after construction and safe for
// concurrent use.
type CorrectionModel struct {
	Trees []decisionTree `cbor:"trees"`
	Seed  int64          `cbor:"seed"`
}

type decisionTree struct {
	Nodes []treeNode `cbor:"nodes"`
}

// treeNode is one node in implicit-array layout. Leaves carry the class in
// Label and have Feature set to -1.
type treeNode struct {
	Feature   int8    `cbor:"f"`
	Threshold float64 `cbor:"t"`
	Left      int32   `cbor:"l"`
	Right     int32   `cbor:"r"`
	Label     uint8   `cbor:"c"`
}

func (t *decisionTree) predict(f []float64) uint8 {
	i := int32(0)
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Label
		}
		if f[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// predict classifies a feature vector by majority vote over the ensemble.
func (m *CorrectionModel) predict(f []float64) uint8 {
	ones := 0
	for i := range m.Trees {
		if m.Trees[i].predict(f) == 1 {
			ones++
		}
	}
	if ones*2 >= len(m.Trees) {
		return 1
	}
	return 0
}

// TrainModel builds a correction model from synthetic noisy-scan samples.
// Training is deterministic for a fixed seed and sample count.
func TrainModel(seed int64, samples int) (*CorrectionModel, error) {
	if samples < 100 {
		return nil, &ValidationError{Field: "samples", Reason: "need at least 100 training samples"}
	}
	rng := rand.New(rand.NewSource(seed))

	features := make([][numFeatures]float64, samples)
	labels := make([]uint8, samples)
	for i := 0; i < samples; i++ {
		features[i], labels[i] = syntheticSample(rng)
	}

	m := &CorrectionModel{Seed: seed, Trees: make([]decisionTree, forestTrees)}
	idx := make([]int, samples)
	for t := 0; t < forestTrees; t++ {
		for i := range idx {
			idx[i] = rng.Intn(samples)
		}
		var tree decisionTree
		buildTreeNode(&tree, features, labels, append([]int(nil), idx...), forestMaxDepth, rng)
		m.Trees[t] = tree
	}
	return m, nil
}

// syntheticSample draws one training example. Dark segments are ones, so
// the label follows the underlying clean intensity.
func syntheticSample(rng *rand.Rand) ([numFeatures]float64, uint8) {
	bit := uint8(rng.Intn(2))
	var base float64
	if bit == 1 {
		base = rng.Float64() * 110
	} else {
		base = 146 + rng.Float64()*109
	}
	noiseLevel := rng.Float64() * 50
	raw := clampF(base+rng.NormFloat64()*noiseLevel, 0, 255)
	localAvg := clampF(base+rng.Float64()*40-20, 0, 255)

	s := SampledBit{
		Intensity:  raw,
		LocalAvg:   localAvg,
		Gradient:   rng.Float64() * 60,
		Confidence: clampF(absF(raw-localAvg)/128, 0, 1),
		Ring:       rng.Intn(MaxRings),
	}
	prev := syntheticNeighbor(rng, bit)
	next := syntheticNeighbor(rng, bit)
	pos := rng.Intn(320)
	return buildFeatures(s, prev, next, pos, 320, MaxRings), bit
}

// syntheticNeighbor mimics the spatial correlation of real bit streams:
// neighbors usually share the bit value, sometimes flip, and occasionally
// fall off the stream edge.
func syntheticNeighbor(rng *rand.Rand, bit uint8) int {
	switch p := rng.Float64(); {
	case p < 0.1:
		return -1
	case p < 0.75:
		return int(bit)
	default:
		return int(1 - bit)
	}
}

// buildTreeNode grows one CART node and returns its index within the tree.
func buildTreeNode(tree *decisionTree, x [][numFeatures]float64, y []uint8, idx []int, depth int, rng *rand.Rand) int32 {
	self := int32(len(tree.Nodes))
	tree.Nodes = append(tree.Nodes, treeNode{Feature: -1})

	ones := 0
	for _, i := range idx {
		ones += int(y[i])
	}
	majority := uint8(0)
	if ones*2 >= len(idx) {
		majority = 1
	}
	if depth == 0 || len(idx) < 2*forestMinLeaf || ones == 0 || ones == len(idx) {
		tree.Nodes[self].Label = majority
		return self
	}

	feat, thr, ok := bestSplit(x, y, idx, rng)
	if !ok {
		tree.Nodes[self].Label = majority
		return self
	}

	var left, right []int
	for _, i := range idx {
		if x[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < forestMinLeaf || len(right) < forestMinLeaf {
		tree.Nodes[self].Label = majority
		return self
	}

	tree.Nodes[self].Feature = int8(feat)
	tree.Nodes[self].Threshold = thr
	tree.Nodes[self].Left = buildTreeNode(tree, x, y, left, depth-1, rng)
	tree.Nodes[self].Right = buildTreeNode(tree, x, y, right, depth-1, rng)
	return self
}

// bestSplit searches a random feature subset for the threshold with the
// lowest weighted Gini impurity.
func bestSplit(x [][numFeatures]float64, y []uint8, idx []int, rng *rand.Rand) (int, float64, bool) {
	bestGini := giniOf(y, idx)
	bestFeat, bestThr, found := 0, 0.0, false

	for trial := 0; trial < 3; trial++ {
		feat := rng.Intn(numFeatures)
		for c := 0; c < 8; c++ {
			pivot := x[idx[rng.Intn(len(idx))]][feat]
			var nL, oL, nR, oR int
			for _, i := range idx {
				if x[i][feat] <= pivot {
					nL++
					oL += int(y[i])
				} else {
					nR++
					oR += int(y[i])
				}
			}
			if nL == 0 || nR == 0 {
				continue
			}
			g := (float64(nL)*gini(oL, nL) + float64(nR)*gini(oR, nR)) / float64(nL+nR)
			if g < bestGini-1e-9 {
				bestGini = g
				bestFeat = feat
				bestThr = pivot
				found = true
			}
		}
	}
	return bestFeat, bestThr, found
}

func gini(ones, n int) float64 {
	p := float64(ones) / float64(n)
	return 2 * p * (1 - p)
}

func giniOf(y []uint8, idx []int) float64 {
	ones := 0
	for _, i := range idx {
		ones += int(y[i])
	}
	return gini(ones, len(idx))
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Save writes the model artifact: magic, version, then a zstd-compressed
// CBOR payload.
func (m *CorrectionModel) Save(path string) error {
	var payload bytes.Buffer
	if _, err := payload.WriteString(modelMagic); err != nil {
		return err
	}
	if err := payload.WriteByte(modelVersion); err != nil {
		return err
	}

	raw, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	enc, err := zstd.NewWriter(&payload)
	if err != nil {
		return err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, payload.Bytes(), 0o644)
}

// LoadModel reads a model artifact written by Save.
func LoadModel(path string) (*CorrectionModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < len(modelMagic)+1 || string(data[:len(modelMagic)]) != modelMagic {
		return nil, fmt.Errorf("kdcode: %s is not a correction model artifact", path)
	}
	if v := data[len(modelMagic)]; v != modelVersion {
		return nil, fmt.Errorf("kdcode: unsupported model version %d", v)
	}

	dec, err := zstd.NewReader(bytes.NewReader(data[len(modelMagic)+1:]))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}

	var m CorrectionModel
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(m.Trees) == 0 {
		return nil, fmt.Errorf("kdcode: model artifact holds no trees")
	}
	return &m, nil
}

var (
	defaultModel     *CorrectionModel
	defaultModelOnce sync.Once
)

// defaultCorrectionModel loads the artifact at DefaultModelPath exactly
// once, shared by every decode that did not receive an explicit model.
func defaultCorrectionModel(log *zap.Logger) *CorrectionModel {
	defaultModelOnce.Do(func() {
		m, err := LoadModel(DefaultModelPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn("correction model unavailable", zap.String("path", DefaultModelPath), zap.Error(err))
			}
			return
		}
		defaultModel = m
	})
	return defaultModel
}
