package tensor

import (
	"fmt"
)

// topoOrder returns the reachable graph in DFS post-order. Reversing it gives
// a topological order in which every consumer precedes its inputs.
func topoOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, in := range t.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, t)
	}
	visit(root)

	return order
}

// backwardGraph propagates seed through the graph rooted at root and returns
// the gradient reaching every tensor. Gradients are built from autograd ops,
// so entries of the returned map are themselves differentiable.
func backwardGraph(root, seed *Tensor) (map[*Tensor]*Tensor, error) {
	if root.DType != Float32 {
		return nil, fmt.Errorf("backward requires a Float32 root, got %s", root.DType)
	}

	grads := map[*Tensor]*Tensor{root: seed}
	order := topoOrder(root)

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g := grads[node]
		if g == nil || node.creator == nil {
			continue
		}

		inputs := node.creator.Inputs()
		inputGrads := node.creator.Backward(g)
		if len(inputGrads) != len(inputs) {
			return nil, fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}

		for j, in := range inputs {
			ig := inputGrads[j]
			if ig == nil || !in.requiresGrad {
				continue
			}
			if existing := grads[in]; existing != nil {
				grads[in] = AddAutograd(existing, ig)
			} else {
				grads[in] = ig
			}
		}
	}

	return grads, nil
}

// Backward runs backpropagation from a scalar loss and accumulates gradients
// into the grad field of every reachable leaf tensor that requires them.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a scalar loss, got shape %v", t.Shape)
	}

	seed, err := Ones(t.Shape, Float32, t.Device)
	if err != nil {
		return err
	}

	grads, err := backwardGraph(t, seed)
	if err != nil {
		return err
	}

	for node, g := range grads {
		if !node.requiresGrad || node.creator != nil {
			continue
		}
		// Detach before storing; accumulated gradients are plain data.
		gc, err := g.Clone()
		if err != nil {
			return err
		}
		if node.grad != nil {
			sum, err := Add(node.grad, gc)
			if err != nil {
				return err
			}
			node.grad = sum
		} else {
			node.grad = gc
		}
	}

	return nil
}

// Grad computes the gradient of a scalar output with respect to each of the
// given inputs without touching any grad field. The returned tensors remain
// part of the autograd graph, so they can be differentiated again; this is
// what the R1 gradient penalty relies on. Inputs the output does not depend
// on yield nil entries.
func Grad(output *Tensor, inputs []*Tensor) ([]*Tensor, error) {
	if output.NumElems != 1 {
		return nil, fmt.Errorf("Grad requires a scalar output, got shape %v", output.Shape)
	}

	seed, err := Ones(output.Shape, Float32, output.Device)
	if err != nil {
		return nil, err
	}

	grads, err := backwardGraph(output, seed)
	if err != nil {
		return nil, err
	}

	result := make([]*Tensor, len(inputs))
	for i, in := range inputs {
		result[i] = grads[in]
	}
	return result, nil
}
