package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/vqtokenizer/internal/nn"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Adam implements the Adam optimizer (Adaptive Moment Estimation).
//
// Algorithm:
//
//	m_t = β1 * m_{t-1} + (1 - β1) * g_t
//	v_t = β2 * v_{t-1} + (1 - β2) * g_t²
//	m̂_t = m_t / (1 - β1^t)
//	v̂_t = v_t / (1 - β2^t)
//	θ_t = θ_{t-1} - α * (m̂_t / (√v̂_t + ε) + λ * θ_{t-1})
//
// With WeightDecay λ > 0 the decay is decoupled from the gradient, as in
// AdamW (Loshchilov & Hutter, 2019). With λ = 0 this is plain Adam.
type Adam struct {
	params      []*nn.Parameter
	lr          float32
	beta1       float32
	beta2       float32
	eps         float32
	weightDecay float32
	t           int                         // Timestep for bias correction
	m           map[*nn.Parameter][]float32 // First moment estimates
	v           map[*nn.Parameter][]float32 // Second moment estimates
}

// AdamConfig contains configuration for the Adam optimizer.
type AdamConfig struct {
	LR          float32    // Learning rate (default: 0.001)
	Betas       [2]float32 // Running average coefficients (default: [0.9, 0.999])
	Eps         float32    // Numerical stability term (default: 1e-8)
	WeightDecay float32    // Decoupled weight decay (default: 0, plain Adam)
}

// NewAdam creates a new Adam optimizer. Zero fields take their defaults.
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam{
		params:      params,
		lr:          config.LR,
		beta1:       config.Betas[0],
		beta2:       config.Betas[1],
		eps:         config.Eps,
		weightDecay: config.WeightDecay,
		m:           make(map[*nn.Parameter][]float32),
		v:           make(map[*nn.Parameter][]float32),
	}
}

// Step performs a single optimization step.
func (a *Adam) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		n := param.Tensor().NumElements()
		m, ok := a.m[param]
		if !ok {
			m = make([]float32, n)
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = make([]float32, n)
			a.v[param] = v
		}
		a.updateParameter(param.Tensor().Data(), grad.Data(), m, v, biasCorrection1, biasCorrection2)
	}
}

func (a *Adam) updateParameter(p, g, m, v []float32, bc1, bc2 float32) {
	for i := range p {
		m[i] = a.beta1*m[i] + (1.0-a.beta1)*g[i]
		v[i] = a.beta2*v[i] + (1.0-a.beta2)*g[i]*g[i]

		mHat := m[i] / bc1
		vHat := v[i] / bc2

		update := mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		if a.weightDecay != 0 {
			update += a.weightDecay * p[i]
		}
		p[i] -= a.lr * update
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float32 {
	return a.lr
}

// SetLR sets the learning rate.
func (a *Adam) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the current timestep.
func (a *Adam) GetTimestep() int {
	return a.t
}

// AdamState is the serializable optimizer state, keyed by parameter name.
type AdamState struct {
	Step int                  `msgpack:"step"`
	M    map[string][]float32 `msgpack:"m"`
	V    map[string][]float32 `msgpack:"v"`
}

// State returns a copy of the moment estimates and timestep.
func (a *Adam) State() AdamState {
	state := AdamState{
		Step: a.t,
		M:    make(map[string][]float32, len(a.m)),
		V:    make(map[string][]float32, len(a.v)),
	}
	for p, m := range a.m {
		state.M[p.Name()] = append([]float32(nil), m...)
	}
	for p, v := range a.v {
		state.V[p.Name()] = append([]float32(nil), v...)
	}
	return state
}

// LoadState restores moment estimates saved by State. Unknown names and
// size mismatches are errors.
func (a *Adam) LoadState(state AdamState) error {
	byName := make(map[string]*nn.Parameter, len(a.params))
	for _, p := range a.params {
		byName[p.Name()] = p
	}
	load := func(dst map[*nn.Parameter][]float32, src map[string][]float32) error {
		for name, values := range src {
			p, ok := byName[name]
			if !ok {
				return fmt.Errorf("optimizer state for unknown parameter %s", name)
			}
			if len(values) != p.Tensor().NumElements() {
				return fmt.Errorf("optimizer state for %s has %d values, want %d",
					name, len(values), p.Tensor().NumElements())
			}
			dst[p] = append([]float32(nil), values...)
		}
		return nil
	}
	if err := load(a.m, state.M); err != nil {
		return err
	}
	if err := load(a.v, state.V); err != nil {
		return err
	}
	a.t = state.Step
	return nil
}
