package qtable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// #region errors
var (
	// ErrShapeMismatch reports a table whose dimensions differ from the binding.
	ErrShapeMismatch = errors.New("q-table shape mismatch")
	// ErrInvalidGoalKey reports a key not in canonical "[z1,z2]" form.
	ErrInvalidGoalKey = errors.New("invalid goal key")
)
// #endregion errors

// #region goal
// Goal is a pair of target zone levels.
type Goal struct {
	Z1 int `json:"z1"`
	Z2 int `json:"z2"`
}

// Key returns the canonical store key, e.g. "[2,3]".
func (g Goal) Key() string {
	return fmt.Sprintf("[%d,%d]", g.Z1, g.Z2)
}

func (g Goal) String() string {
	return g.Key()
}

// Reached reports whether zone levels z1, z2 satisfy the goal.
func (g Goal) Reached(z1, z2 int) bool {
	return g.Z1 == z1 && g.Z2 == z2
}

// ParseGoalKey parses a canonical goal key.
func ParseGoalKey(key string) (Goal, error) {
	if !strings.HasPrefix(key, "[") || !strings.HasSuffix(key, "]") {
		return Goal{}, fmt.Errorf("%q: %w", key, ErrInvalidGoalKey)
	}
	parts := strings.Split(key[1:len(key)-1], ",")
	if len(parts) != 2 {
		return Goal{}, fmt.Errorf("%q: %w", key, ErrInvalidGoalKey)
	}
	z1, err1 := strconv.Atoi(parts[0])
	z2, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return Goal{}, fmt.Errorf("%q: %w", key, ErrInvalidGoalKey)
	}
	g := Goal{Z1: z1, Z2: z2}
	if g.Key() != key {
		return Goal{}, fmt.Errorf("%q is not canonical: %w", key, ErrInvalidGoalKey)
	}
	return g, nil
}
// #endregion goal

// #region tables
// Tables maps canonical goal keys to state x action value matrices.
type Tables map[string]*mat.Dense

// NewTable returns a zero-initialized rows x cols table.
func NewTable(rows, cols int) *mat.Dense {
	return mat.NewDense(rows, cols, nil)
}

// Keys returns the goal keys in sorted order.
func (t Tables) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies every table.
func (t Tables) Clone() Tables {
	out := make(Tables, len(t))
	for k, m := range t {
		out[k] = mat.DenseCopyOf(m)
	}
	return out
}

// Validate checks every table against the bound dimensions.
func Validate(t Tables, rows, cols int) error {
	for _, k := range t.Keys() {
		r, c := t[k].Dims()
		if r != rows || c != cols {
			return fmt.Errorf("goal %s is %dx%d, want %dx%d: %w", k, r, c, rows, cols, ErrShapeMismatch)
		}
	}
	return nil
}
// #endregion tables

// #region store
// Store persists the whole goal -> table mapping. Load returns an empty
// mapping when nothing has been saved yet; any other failure is an error.
// Save overwrites the previous record so that a reader never observes a
// partial write.
type Store interface {
	Load(ctx context.Context) (Tables, error)
	Save(ctx context.Context, tables Tables) error
}
// #endregion store
