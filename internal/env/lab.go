package env

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

// #region constants
const (
	MaxZoneLevel   = 3
	SunshineLevels = 4
	actuatorCount  = 4

	// LabStateCount covers every actuator combination times every sunshine level.
	LabStateCount  = (1 << actuatorCount) * SunshineLevels
	LabActionCount = 2 * actuatorCount

	defaultSunshine = 2
)

// Actuator order shared by the state encoding and the action layout:
// action 2k switches actuator k off, action 2k+1 switches it on.
const (
	actZ1Light = iota
	actZ2Light
	actZ1Blinds
	actZ2Blinds
)
// #endregion constants

// #region lab
// Lab is an in-process simulation of the two-zone lab. Each zone has a light
// and blinds; the zone level rises by 2 with the light on and by 1 with the
// blinds open while the sun is out. Lab is safe for concurrent use.
type Lab struct {
	mu        sync.Mutex
	actuators [actuatorCount]bool
	sunshine  int
	drift     float64
	rng       *rand.Rand
}

// LabOption configures a Lab.
type LabOption func(*Lab)

// WithSeed makes sunshine drift reproducible.
func WithSeed(seed uint64) LabOption {
	return func(l *Lab) { l.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithSunshine sets the initial sunshine level.
func WithSunshine(level int) LabOption {
	return func(l *Lab) { l.sunshine = clamp(level, 0, SunshineLevels-1) }
}

// WithDrift sets the probability that sunshine moves by one level after an action.
func WithDrift(p float64) LabOption {
	return func(l *Lab) { l.drift = p }
}

// WithState starts the lab in the configuration encoded by index.
func WithState(index int) LabOption {
	return func(l *Lab) {
		if index >= 0 && index < LabStateCount {
			l.actuators, l.sunshine = decodeIndex(index)
		}
	}
}

// NewLab returns a lab with all lights off and blinds closed.
func NewLab(opts ...LabOption) *Lab {
	l := &Lab{sunshine: defaultSunshine}
	for _, o := range opts {
		o(l)
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return l
}
// #endregion lab

// #region environment-impl
// Dimensions reports the fixed state and action space sizes.
func (l *Lab) Dimensions(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return LabStateCount, LabActionCount, nil
}

// CurrentState returns the index of the present configuration.
func (l *Lab) CurrentState(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return encodeIndex(l.actuators, l.sunshine), nil
}

// ApplicableActions lists the actions that would change an actuator in state.
func (l *Lab) ApplicableActions(ctx context.Context, state int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if state < 0 || state >= LabStateCount {
		return nil, fmt.Errorf("state %d out of range [0,%d)", state, LabStateCount)
	}
	acts, _ := decodeIndex(state)
	actions := make([]int, 0, actuatorCount)
	for k, on := range acts {
		if on {
			actions = append(actions, 2*k)
		} else {
			actions = append(actions, 2*k+1)
		}
	}
	return actions, nil
}

// PerformAction sets the actuator addressed by action. Setting an actuator to
// its current value leaves the lab unchanged.
func (l *Lab) PerformAction(ctx context.Context, action int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if action < 0 || action >= LabActionCount {
		return fmt.Errorf("action %d out of range [0,%d)", action, LabActionCount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actuators[action/2] = action%2 == 1
	if l.drift > 0 && l.rng.Float64() < l.drift {
		if l.rng.IntN(2) == 0 {
			l.sunshine = clamp(l.sunshine-1, 0, SunshineLevels-1)
		} else {
			l.sunshine = clamp(l.sunshine+1, 0, SunshineLevels-1)
		}
	}
	return nil
}

// FullState returns [z1Level, z2Level, z1Light, z2Light, z1Blinds, z2Blinds, sunshine].
func (l *Lab) FullState(ctx context.Context) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fullState(l.actuators, l.sunshine), nil
}

// EncodeState maps a full state vector to its index. Zone levels must agree
// with the actuator fields.
func (l *Lab) EncodeState(ctx context.Context, fields []int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(fields) != FieldCount {
		return 0, fmt.Errorf("full state has %d fields, want %d", len(fields), FieldCount)
	}
	var acts [actuatorCount]bool
	for k := 0; k < actuatorCount; k++ {
		v := fields[FieldZ1Light+k]
		if v != 0 && v != 1 {
			return 0, fmt.Errorf("field %d: actuator value %d is not 0 or 1", FieldZ1Light+k, v)
		}
		acts[k] = v == 1
	}
	sun := fields[FieldSunshine]
	if sun < 0 || sun >= SunshineLevels {
		return 0, fmt.Errorf("sunshine %d out of range [0,%d)", sun, SunshineLevels)
	}
	want := fullState(acts, sun)
	if fields[FieldZ1Level] != want[FieldZ1Level] || fields[FieldZ2Level] != want[FieldZ2Level] {
		return 0, fmt.Errorf("zone levels (%d,%d) inconsistent with actuators, want (%d,%d)",
			fields[FieldZ1Level], fields[FieldZ2Level], want[FieldZ1Level], want[FieldZ2Level])
	}
	return encodeIndex(acts, sun), nil
}
// #endregion environment-impl

// #region encoding
func encodeIndex(acts [actuatorCount]bool, sunshine int) int {
	idx := 0
	for k, on := range acts {
		if on {
			idx |= 1 << k
		}
	}
	return idx | sunshine<<actuatorCount
}

func decodeIndex(index int) ([actuatorCount]bool, int) {
	var acts [actuatorCount]bool
	for k := range acts {
		acts[k] = index&(1<<k) != 0
	}
	return acts, index >> actuatorCount
}

func fullState(acts [actuatorCount]bool, sunshine int) []int {
	return []int{
		zoneLevel(acts[actZ1Light], acts[actZ1Blinds], sunshine),
		zoneLevel(acts[actZ2Light], acts[actZ2Blinds], sunshine),
		b2i(acts[actZ1Light]),
		b2i(acts[actZ2Light]),
		b2i(acts[actZ1Blinds]),
		b2i(acts[actZ2Blinds]),
		sunshine,
	}
}

func zoneLevel(light, blinds bool, sunshine int) int {
	level := 0
	if light {
		level += 2
	}
	if blinds && sunshine > 0 {
		level++
	}
	return clamp(level, 0, MaxZoneLevel)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
// #endregion encoding
