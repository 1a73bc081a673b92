package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// Submodel kind names. These are stable identifiers used in checkpoints,
// weight maps, and trade attribution.
const (
	KindRandomForest     = "random_forest"
	KindGradientBoosting = "gradient_boosting"
	KindLogistic         = "logistic_regression"
)

// Submodel is one member of the ensemble: fit on imputed vectors, predict a
// probability of UP. The mask marks which entries were actually observed.
type Submodel interface {
	Name() string
	Fit(xs [][]float64, ys []int) error
	PredictProb(x []float64, mask []bool) float64
	Trained() bool
}

// ---------------------------------------------------------------------------
// Logistic regression

// Logistic is a standardized-input logistic regression fit by batch
// gradient descent. It is the ensemble's calibration anchor.
type Logistic struct {
	weights []float64
	bias    float64
	mean    []float64
	std     []float64
	epochs  int
	lr      float64
	trained bool
}

// NewLogistic creates an untrained logistic submodel.
func NewLogistic() *Logistic {
	return &Logistic{epochs: 200, lr: 0.1}
}

func (m *Logistic) Name() string  { return KindLogistic }
func (m *Logistic) Trained() bool { return m.trained }

func (m *Logistic) Fit(xs [][]float64, ys []int) error {
	n := len(xs)
	if n == 0 {
		return fmt.Errorf("logistic: empty training set")
	}
	d := len(xs[0])

	m.mean = make([]float64, d)
	m.std = make([]float64, d)
	for j := 0; j < d; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += xs[i][j]
		}
		m.mean[j] = sum / float64(n)
		varSum := 0.0
		for i := 0; i < n; i++ {
			diff := xs[i][j] - m.mean[j]
			varSum += diff * diff
		}
		m.std[j] = math.Sqrt(varSum / float64(n))
	}

	m.weights = make([]float64, d)
	m.bias = 0
	grad := make([]float64, d)
	for epoch := 0; epoch < m.epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		gradB := 0.0
		for i := 0; i < n; i++ {
			p := m.forward(xs[i], nil)
			err := p - float64(ys[i])
			for j := 0; j < d; j++ {
				grad[j] += err * m.standardize(xs[i][j], j)
			}
			gradB += err
		}
		for j := 0; j < d; j++ {
			m.weights[j] -= m.lr * grad[j] / float64(n)
		}
		m.bias -= m.lr * gradB / float64(n)
	}
	m.trained = true
	return nil
}

func (m *Logistic) standardize(v float64, j int) float64 {
	if m.std[j] <= 0 {
		return 0
	}
	return (v - m.mean[j]) / m.std[j]
}

func (m *Logistic) forward(x []float64, mask []bool) float64 {
	z := m.bias
	for j := range m.weights {
		if j >= len(x) {
			break
		}
		if mask != nil && j < len(mask) && !mask[j] {
			continue
		}
		z += m.weights[j] * m.standardize(x[j], j)
	}
	return sigmoid(z)
}

func (m *Logistic) PredictProb(x []float64, mask []bool) float64 {
	if !m.trained {
		return 0.5
	}
	return m.forward(x, mask)
}

func sigmoid(z float64) float64 {
	if z > 36 {
		return 1
	}
	if z < -36 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}

// ---------------------------------------------------------------------------
// Decision tree and random forest

type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	prob      float64
	leaf      bool
}

func (n *treeNode) predict(x []float64) float64 {
	if n.leaf {
		return n.prob
	}
	if x[n.feature] <= n.threshold {
		return n.left.predict(x)
	}
	return n.right.predict(x)
}

// buildTree grows a CART classification tree using Gini impurity over the
// given row and candidate-feature indices.
func buildTree(xs [][]float64, ys []int, rows []int, feats []int, depth, maxDepth, minSplit int) *treeNode {
	ups := 0
	for _, r := range rows {
		ups += ys[r]
	}
	prob := float64(ups) / float64(len(rows))
	if depth >= maxDepth || len(rows) < minSplit || ups == 0 || ups == len(rows) {
		return &treeNode{leaf: true, prob: prob}
	}

	bestFeat, bestThresh, bestGini := -1, 0.0, math.Inf(1)
	for _, j := range feats {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, r := range rows {
			v := xs[r][j]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi <= lo {
			continue
		}
		// Quantile-free candidate thresholds: an even grid over the range
		// keeps splitting deterministic and cheap.
		const cuts = 8
		for c := 1; c < cuts; c++ {
			thresh := lo + (hi-lo)*float64(c)/cuts
			g, ok := splitGini(xs, ys, rows, j, thresh)
			if ok && g < bestGini {
				bestGini, bestFeat, bestThresh = g, j, thresh
			}
		}
	}
	if bestFeat < 0 {
		return &treeNode{leaf: true, prob: prob}
	}

	var leftRows, rightRows []int
	for _, r := range rows {
		if xs[r][bestFeat] <= bestThresh {
			leftRows = append(leftRows, r)
		} else {
			rightRows = append(rightRows, r)
		}
	}
	if len(leftRows) == 0 || len(rightRows) == 0 {
		return &treeNode{leaf: true, prob: prob}
	}
	return &treeNode{
		feature:   bestFeat,
		threshold: bestThresh,
		left:      buildTree(xs, ys, leftRows, feats, depth+1, maxDepth, minSplit),
		right:     buildTree(xs, ys, rightRows, feats, depth+1, maxDepth, minSplit),
	}
}

func splitGini(xs [][]float64, ys []int, rows []int, feat int, thresh float64) (float64, bool) {
	var ln, lu, rn, ru int
	for _, r := range rows {
		if xs[r][feat] <= thresh {
			ln++
			lu += ys[r]
		} else {
			rn++
			ru += ys[r]
		}
	}
	if ln == 0 || rn == 0 {
		return 0, false
	}
	gini := func(n, u int) float64 {
		p := float64(u) / float64(n)
		return 2 * p * (1 - p)
	}
	total := float64(ln + rn)
	return float64(ln)/total*gini(ln, lu) + float64(rn)/total*gini(rn, ru), true
}

// RandomForest bags deterministic CART trees over bootstrap samples with
// per-tree feature subsets.
type RandomForest struct {
	trees    []*treeNode
	nTrees   int
	maxDepth int
	minSplit int
	seed     int64
	trained  bool
}

// NewRandomForest creates an untrained forest. The seed pins bootstrap and
// feature sampling so refits on identical data are identical.
func NewRandomForest(nTrees, maxDepth int, seed int64) *RandomForest {
	if nTrees <= 0 {
		nTrees = 60
	}
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &RandomForest{nTrees: nTrees, maxDepth: maxDepth, minSplit: 5, seed: seed}
}

func (m *RandomForest) Name() string  { return KindRandomForest }
func (m *RandomForest) Trained() bool { return m.trained }

func (m *RandomForest) Fit(xs [][]float64, ys []int) error {
	n := len(xs)
	if n == 0 {
		return fmt.Errorf("random forest: empty training set")
	}
	d := len(xs[0])
	nFeats := int(math.Sqrt(float64(d)))
	if nFeats < 1 {
		nFeats = 1
	}

	rng := rand.New(rand.NewSource(m.seed))
	m.trees = make([]*treeNode, 0, m.nTrees)
	for t := 0; t < m.nTrees; t++ {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = rng.Intn(n)
		}
		feats := rng.Perm(d)[:nFeats]
		m.trees = append(m.trees, buildTree(xs, ys, rows, feats, 0, m.maxDepth, m.minSplit))
	}
	m.trained = true
	return nil
}

func (m *RandomForest) PredictProb(x []float64, _ []bool) float64 {
	if !m.trained || len(m.trees) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, t := range m.trees {
		sum += t.predict(x)
	}
	return sum / float64(len(m.trees))
}

// ---------------------------------------------------------------------------
// Gradient boosting

type stump struct {
	feature   int
	threshold float64
	left      float64
	right     float64
}

// GradientBoosting fits regression stumps to logistic-loss gradients with a
// shrinkage factor, starting from the prior log-odds.
type GradientBoosting struct {
	rounds  int
	lr      float64
	base    float64
	stumps  []stump
	trained bool
}

// NewGradientBoosting creates an untrained boosting submodel.
func NewGradientBoosting(rounds int, lr float64) *GradientBoosting {
	if rounds <= 0 {
		rounds = 80
	}
	if lr <= 0 {
		lr = 0.1
	}
	return &GradientBoosting{rounds: rounds, lr: lr}
}

func (m *GradientBoosting) Name() string  { return KindGradientBoosting }
func (m *GradientBoosting) Trained() bool { return m.trained }

func (m *GradientBoosting) Fit(xs [][]float64, ys []int) error {
	n := len(xs)
	if n == 0 {
		return fmt.Errorf("gradient boosting: empty training set")
	}
	d := len(xs[0])

	ups := 0
	for _, y := range ys {
		ups += y
	}
	p := clampProb(float64(ups) / float64(n))
	m.base = math.Log(p / (1 - p))
	m.stumps = nil

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = m.base
	}

	residuals := make([]float64, n)
	for round := 0; round < m.rounds; round++ {
		for i := 0; i < n; i++ {
			residuals[i] = float64(ys[i]) - sigmoid(scores[i])
		}
		st, ok := fitStump(xs, residuals, d)
		if !ok {
			break
		}
		st.left *= m.lr
		st.right *= m.lr
		m.stumps = append(m.stumps, st)
		for i := 0; i < n; i++ {
			if xs[i][st.feature] <= st.threshold {
				scores[i] += st.left
			} else {
				scores[i] += st.right
			}
		}
	}
	m.trained = true
	return nil
}

// fitStump picks the feature/threshold minimizing squared error against the
// residuals, with mean-residual leaf values.
func fitStump(xs [][]float64, residuals []float64, d int) (stump, bool) {
	n := len(xs)
	best := stump{feature: -1}
	bestErr := math.Inf(1)
	for j := 0; j < d; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < n; i++ {
			v := xs[i][j]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi <= lo {
			continue
		}
		const cuts = 8
		for c := 1; c < cuts; c++ {
			thresh := lo + (hi-lo)*float64(c)/cuts
			var lSum, rSum float64
			var lN, rN int
			for i := 0; i < n; i++ {
				if xs[i][j] <= thresh {
					lSum += residuals[i]
					lN++
				} else {
					rSum += residuals[i]
					rN++
				}
			}
			if lN == 0 || rN == 0 {
				continue
			}
			lMean := lSum / float64(lN)
			rMean := rSum / float64(rN)
			sse := 0.0
			for i := 0; i < n; i++ {
				var diff float64
				if xs[i][j] <= thresh {
					diff = residuals[i] - lMean
				} else {
					diff = residuals[i] - rMean
				}
				sse += diff * diff
			}
			if sse < bestErr {
				bestErr = sse
				// Newton step: the logloss Hessian is p(1-p), ~1/4 near
				// p=0.5, so mean residuals scale by 4.
				best = stump{feature: j, threshold: thresh, left: lMean * 4, right: rMean * 4}
			}
		}
	}
	return best, best.feature >= 0
}

func (m *GradientBoosting) PredictProb(x []float64, _ []bool) float64 {
	if !m.trained {
		return 0.5
	}
	score := m.base
	for _, st := range m.stumps {
		if x[st.feature] <= st.threshold {
			score += st.left
		} else {
			score += st.right
		}
	}
	return sigmoid(score)
}

func clampProb(p float64) float64 {
	const eps = 1e-4
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

// accuracy scores a submodel's directional hit rate on labeled samples.
func accuracy(m Submodel, samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	correct := 0
	for _, s := range samples {
		p := m.PredictProb(s.Vector[:], s.Mask[:])
		if (p >= 0.5) == s.Up {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}
