package env

import (
	"context"
	"fmt"
)

// #region environment
// Environment is the discrete port the learner drives. Dimensions are fixed
// for the lifetime of a binding; effects of PerformAction are only observable
// through a later CurrentState or FullState read.
type Environment interface {
	Dimensions(ctx context.Context) (stateCount, actionCount int, err error)
	CurrentState(ctx context.Context) (int, error)
	ApplicableActions(ctx context.Context, state int) ([]int, error)
	PerformAction(ctx context.Context, action int) error
	FullState(ctx context.Context) ([]int, error)
}

// StateEncoder is implemented by environments that can map a full state
// vector back to its state index.
type StateEncoder interface {
	EncodeState(ctx context.Context, fields []int) (int, error)
}
// #endregion environment

// #region field-layout
// Positions inside the full state vector.
const (
	FieldZ1Level = iota
	FieldZ2Level
	FieldZ1Light
	FieldZ2Light
	FieldZ1Blinds
	FieldZ2Blinds
	FieldSunshine
	FieldCount
)
// #endregion field-layout

// #region lab-state
// LabState is the typed view of a full state vector.
type LabState struct {
	Z1Level  int  `json:"z1_level"`
	Z2Level  int  `json:"z2_level"`
	Z1Light  bool `json:"z1_light"`
	Z2Light  bool `json:"z2_light"`
	Z1Blinds bool `json:"z1_blinds"`
	Z2Blinds bool `json:"z2_blinds"`
	Sunshine int  `json:"sunshine"`
}

// ParseLabState converts a raw full state vector. Actuator fields are true
// only when they equal 1.
func ParseLabState(fields []int) (LabState, error) {
	if len(fields) < FieldCount {
		return LabState{}, fmt.Errorf("full state has %d fields, want %d", len(fields), FieldCount)
	}
	return LabState{
		Z1Level:  fields[FieldZ1Level],
		Z2Level:  fields[FieldZ2Level],
		Z1Light:  fields[FieldZ1Light] == 1,
		Z2Light:  fields[FieldZ2Light] == 1,
		Z1Blinds: fields[FieldZ1Blinds] == 1,
		Z2Blinds: fields[FieldZ2Blinds] == 1,
		Sunshine: fields[FieldSunshine],
	}, nil
}

// ZoneLevels returns the two zone levels of a full state vector.
func ZoneLevels(fields []int) (int, int, error) {
	if len(fields) <= FieldZ2Level {
		return 0, 0, fmt.Errorf("full state has %d fields, need zone levels", len(fields))
	}
	return fields[FieldZ1Level], fields[FieldZ2Level], nil
}
// #endregion lab-state
