package qlearn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// #region update-rule
// Update applies Q[s,a] += alpha * (reward + gamma*maxNext - Q[s,a]) and
// returns the new value.
func Update(q *mat.Dense, s, a int, reward, maxNext, alpha, gamma float64) float64 {
	cur := q.At(s, a)
	v := cur + alpha*(reward+gamma*maxNext-cur)
	q.Set(s, a, v)
	return v
}

// MaxQ returns the largest value among applicable actions at s, or 0 when
// none is positive.
func MaxQ(q *mat.Dense, s int, applicable []int) float64 {
	best := 0.0
	for _, a := range applicable {
		if v := q.At(s, a); v > best {
			best = v
		}
	}
	return best
}
// #endregion update-rule

// #region policy
// Policy selects actions from a table. It is not safe for concurrent use.
type Policy struct {
	rng *rand.Rand
}

// NewPolicy returns a policy drawing from rng.
func NewPolicy(rng *rand.Rand) *Policy {
	return &Policy{rng: rng}
}

// Select is epsilon-greedy: with probability epsilon a uniformly random
// applicable action, otherwise Greedy.
func (p *Policy) Select(q *mat.Dense, s int, applicable []int, epsilon float64) (int, error) {
	if err := CheckBounds(q, s, applicable); err != nil {
		return 0, err
	}
	if p.rng.Float64() < epsilon {
		return p.random(applicable), nil
	}
	return p.greedy(q, s, applicable), nil
}

// Greedy returns the applicable action with the highest value. When that
// value is exactly zero nothing has been reinforced yet and the choice is
// uniformly random instead.
func (p *Policy) Greedy(q *mat.Dense, s int, applicable []int) (int, error) {
	if err := CheckBounds(q, s, applicable); err != nil {
		return 0, err
	}
	return p.greedy(q, s, applicable), nil
}

// Random returns a uniformly random applicable action.
func (p *Policy) Random(applicable []int) (int, error) {
	if len(applicable) == 0 {
		return 0, fmt.Errorf("no applicable actions: %w", ErrContractViolation)
	}
	return p.random(applicable), nil
}

func (p *Policy) greedy(q *mat.Dense, s int, applicable []int) int {
	best := applicable[0]
	bestV := q.At(s, best)
	for _, a := range applicable[1:] {
		if v := q.At(s, a); v > bestV {
			best, bestV = a, v
		}
	}
	if bestV == 0 {
		return p.random(applicable)
	}
	return best
}

func (p *Policy) random(applicable []int) int {
	return applicable[p.rng.IntN(len(applicable))]
}
// #endregion policy

// #region bounds
// CheckBounds verifies s and every applicable action index against q.
func CheckBounds(q *mat.Dense, s int, applicable []int) error {
	rows, cols := q.Dims()
	if s < 0 || s >= rows {
		return fmt.Errorf("state %d outside [0,%d): %w", s, rows, ErrContractViolation)
	}
	if len(applicable) == 0 {
		return fmt.Errorf("no applicable actions in state %d: %w", s, ErrContractViolation)
	}
	for _, a := range applicable {
		if a < 0 || a >= cols {
			return fmt.Errorf("action %d outside [0,%d): %w", a, cols, ErrContractViolation)
		}
	}
	return nil
}
// #endregion bounds
