package optimizer

import (
	"fmt"
	"math"
	"sync"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/tensor"
)

// ParamGroup is a set of parameters sharing a learning-rate multiplier.
// The effective rate for a group is base lr × LRMult, so decaying the base
// rate scales every group proportionally.
type ParamGroup struct {
	Params []*tensor.Tensor
	LRMult float64
}

// Adam implements the Adam optimizer over parameter groups.
type Adam struct {
	groups []ParamGroup
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	step   int64
	m      map[*tensor.Tensor][]float32 // First moment estimates
	v      map[*tensor.Tensor][]float32 // Second moment estimates
	mutex  sync.RWMutex
}

// NewAdam creates a new Adam optimizer over one or more parameter groups.
func NewAdam(groups []ParamGroup, lr, beta1, beta2, eps float64) (*Adam, error) {
	adam := &Adam{
		groups: groups,
		lr:     lr,
		beta1:  beta1,
		beta2:  beta2,
		eps:    eps,
		m:      make(map[*tensor.Tensor][]float32),
		v:      make(map[*tensor.Tensor][]float32),
	}

	for gi, group := range groups {
		if group.LRMult <= 0 {
			return nil, fmt.Errorf("parameter group %d has non-positive lr multiplier %v", gi, group.LRMult)
		}
		for _, param := range group.Params {
			if param.DType != tensor.Float32 {
				return nil, fmt.Errorf("Adam supports Float32 parameters, got %v", param.DType)
			}
			adam.m[param] = make([]float32, param.NumElems)
			adam.v[param] = make([]float32, param.NumElems)
		}
	}

	return adam, nil
}

// Step performs a single optimization step. A non-finite gradient value
// aborts the step with an error before any parameter has been touched.
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	// Validate every gradient first so a failed step leaves state unmodified.
	for _, group := range adam.groups {
		for _, param := range group.Params {
			if !param.RequiresGrad() || param.Grad() == nil {
				continue
			}
			gradData, err := param.Grad().GetFloat32Data()
			if err != nil {
				return fmt.Errorf("gradient read failed: %v", err)
			}
			for _, g := range gradData {
				if math.IsNaN(float64(g)) || math.IsInf(float64(g), 0) {
					return fmt.Errorf("non-finite gradient encountered at step %d", adam.step+1)
				}
			}
		}
	}

	adam.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for _, group := range adam.groups {
		stepSize := adam.lr * group.LRMult / bias1

		for _, param := range group.Params {
			if !param.RequiresGrad() || param.Grad() == nil {
				continue
			}

			gradData, err := param.Grad().GetFloat32Data()
			if err != nil {
				return fmt.Errorf("gradient read failed: %v", err)
			}
			paramData, err := param.GetFloat32Data()
			if err != nil {
				return fmt.Errorf("parameter read failed: %v", err)
			}

			m := adam.m[param]
			v := adam.v[param]
			if m == nil || v == nil {
				m = make([]float32, param.NumElems)
				v = make([]float32, param.NumElems)
				adam.m[param] = m
				adam.v[param] = v
			}

			for i := range paramData {
				g := float64(gradData[i])

				// m = beta1*m + (1-beta1)*grad; v = beta2*v + (1-beta2)*grad^2
				mi := adam.beta1*float64(m[i]) + (1.0-adam.beta1)*g
				vi := adam.beta2*float64(v[i]) + (1.0-adam.beta2)*g*g
				m[i] = float32(mi)
				v[i] = float32(vi)

				denom := math.Sqrt(vi/bias2) + adam.eps
				paramData[i] -= float32(stepSize * mi / denom)
			}
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	for _, group := range adam.groups {
		tensor.ZeroGrad(group.Params)
	}
}

// GetLR returns the current base learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLR sets the base learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}

// Parameters returns all parameters across groups in a stable order.
func (adam *Adam) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, group := range adam.groups {
		params = append(params, group.Params...)
	}
	return params
}
