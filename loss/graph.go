package loss

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Gradients holds the derivatives of the total loss with respect to the
// network outputs, shaped like the predictions.
type Gradients struct {
	// Loc is d(loss)/d(locPreds), (B, N, 4).
	Loc *tensor.Dense
	// Conf is d(loss)/d(confPreds), (B, N, C).
	Conf *tensor.Dense
}

// Gradients evaluates the loss as a gorgonia expression graph and
// differentiates it with respect to both prediction tensors.
//
// Hard negatives are mined first and enter the graph as a constant selection
// mask, so the graph value equals Compute. Smooth L1 is expressed as
// |d| - 0.5 + 0.5*relu(1-|d|)^2 and cross-entropy as a row-shifted
// log-sum-exp. A batch without foreground anchors returns zero gradients
// without building a graph.
//
// Arguments:
//   - locPreds: (B, N, 4) float32 predicted offsets.
//   - locTargets: (B, N, 4) float32 encoded offsets.
//   - confPreds: (B, N, C) float32 class logits.
//   - confTargets: (B, N) int class targets.
//
// Returns:
//   - *Result: The loss terms as computed by the graph.
//   - *Gradients: Gradients for the external optimizer.
//   - error: Input validation or graph execution errors.
func (m *MultiBox) Gradients(locPreds, locTargets, confPreds, confTargets *tensor.Dense) (*Result, *Gradients, error) {
	b, err := m.unpack(locPreds, locTargets, confPreds, confTargets)
	if err != nil {
		return nil, nil, err
	}

	result, selected := m.evaluate(b)
	if result.NumPositive == 0 {
		return result, &Gradients{
			Loc:  tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(b.size, b.anchors, 4)),
			Conf: tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(b.size, b.anchors, b.classes)),
		}, nil
	}

	lg, err := m.buildGraph(b, selected, result.NumPositive)
	if err != nil {
		return nil, nil, errors.Wrap(err, "building loss graph")
	}

	vm := G.NewTapeMachine(lg.g, G.BindDualValues(lg.locPred, lg.confPred))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, nil, errors.Wrap(err, "running loss graph")
	}

	locGrad, err := gradOf(lg.locPred, b.size, b.anchors, 4)
	if err != nil {
		return nil, nil, err
	}
	confGrad, err := gradOf(lg.confPred, b.size, b.anchors, b.classes)
	if err != nil {
		return nil, nil, err
	}

	result.Loc = lg.locLoss.Value().Data().(float32)
	result.Conf = lg.confLoss.Value().Data().(float32)
	result.Total = lg.total.Value().Data().(float32)

	return result, &Gradients{Loc: locGrad, Conf: confGrad}, nil
}

type lossGraph struct {
	g *G.ExprGraph

	locPred, confPred *G.Node
	locLoss, confLoss *G.Node
	total             *G.Node
}

// buildGraph lays out the loss over the batch flattened to B*N rows.
func (m *MultiBox) buildGraph(b *batch, selected []bool, numPositive int) (*lossGraph, error) {
	rows := b.size * b.anchors
	c := b.classes

	posMask := make([]float32, rows*4)
	shift := make([]float32, rows*c)
	target := make([]float32, rows*c)
	sel := make([]float32, rows)
	for i := 0; i < rows; i++ {
		if b.labels[i] != 0 {
			for k := 0; k < 4; k++ {
				posMask[4*i+k] = 1
			}
		}
		peak := logSumExp(b.row(i))
		for k := 0; k < c; k++ {
			shift[i*c+k] = peak
		}
		if selected[i] {
			sel[i] = 1
			target[i*c+b.labels[i]] = 1
		}
	}

	g := G.NewGraph()
	matrix := func(name string, backing []float32, cols int) *G.Node {
		return G.NewMatrix(g, tensor.Float32,
			G.WithShape(rows, cols),
			G.WithName(name),
			G.WithValue(tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))),
		)
	}

	lg := &lossGraph{g: g}
	lg.locPred = matrix("loc_preds", b.locPred, 4)
	lg.confPred = matrix("conf_preds", b.confPred, c)
	locTarget := matrix("loc_targets", b.locTarget, 4)
	posNode := matrix("positive_mask", posMask, 4)
	shiftNode := matrix("row_shift", shift, c)
	targetNode := matrix("target_onehot", target, c)
	selNode := G.NewVector(g, tensor.Float32,
		G.WithShape(rows),
		G.WithName("selected"),
		G.WithValue(tensor.New(tensor.WithShape(rows), tensor.WithBacking(sel))),
	)

	half := G.NewConstant(float32(0.5))
	one := G.NewConstant(float32(1))
	norm := G.NewConstant(float32(numPositive))

	// Localization: smooth L1 over foreground coordinates.
	d := G.Must(G.Sub(lg.locPred, locTarget))
	d = G.Must(G.HadamardProd(d, posNode))
	a := G.Must(G.Abs(d))
	knee := G.Must(G.Square(G.Must(G.Rectify(G.Must(G.Sub(one, a))))))
	sl1 := G.Must(G.Add(G.Must(G.Sub(a, half)), G.Must(G.Mul(half, knee))))
	lg.locLoss = G.Must(G.Div(G.Must(G.Sum(sl1)), norm))

	// Classification: sum over selected rows of lse(row) - row[label]. The
	// per-row shift is the row's own log-sum-exp, which keeps exp() <= 1 and
	// leaves the value and gradient unchanged.
	shifted := G.Must(G.Sub(lg.confPred, shiftNode))
	lse := G.Must(G.Log(G.Must(G.Sum(G.Must(G.Exp(shifted)), 1))))
	picked := G.Must(G.Sum(G.Must(G.HadamardProd(shifted, targetNode))))
	normalizer := G.Must(G.Sum(G.Must(G.HadamardProd(lse, selNode))))
	lg.confLoss = G.Must(G.Div(G.Must(G.Sub(normalizer, picked)), norm))

	lg.total = G.Must(G.Add(lg.locLoss, lg.confLoss))

	if _, err := G.Grad(lg.total, lg.locPred, lg.confPred); err != nil {
		return nil, err
	}
	return lg, nil
}

func gradOf(n *G.Node, shape ...int) (*tensor.Dense, error) {
	v, err := n.Grad()
	if err != nil {
		return nil, errors.Wrapf(err, "reading gradient of %s", n.Name())
	}
	data := append([]float32(nil), v.Data().([]float32)...)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}
