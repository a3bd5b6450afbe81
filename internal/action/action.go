package action

import (
	"errors"
	"fmt"
)

// #region types
// ErrUnknownAction is returned for indices outside the codec's range.
var ErrUnknownAction = errors.New("unknown action")

// Command is the externally consumable form of an action.
type Command struct {
	Tag           string   `json:"tag"`
	PayloadFields []string `json:"payload_fields"`
	PayloadValues []bool   `json:"payload_values"`
}

// Entry binds one action index to its command.
type Entry struct {
	Action  int
	Command Command
}
// #endregion types

// #region codec
// Codec is a fixed lookup table from action index to Command.
type Codec struct {
	commands []Command
}

// NewCodec builds a codec and checks that entries cover [0, actionCount)
// exactly once.
func NewCodec(entries []Entry, actionCount int) (*Codec, error) {
	if actionCount <= 0 {
		return nil, fmt.Errorf("action count %d must be positive", actionCount)
	}
	commands := make([]Command, actionCount)
	seen := make([]bool, actionCount)
	for _, e := range entries {
		if e.Action < 0 || e.Action >= actionCount {
			return nil, fmt.Errorf("entry for action %d outside [0,%d)", e.Action, actionCount)
		}
		if seen[e.Action] {
			return nil, fmt.Errorf("duplicate entry for action %d", e.Action)
		}
		if e.Command.Tag == "" {
			return nil, fmt.Errorf("entry for action %d has empty tag", e.Action)
		}
		if len(e.Command.PayloadFields) != len(e.Command.PayloadValues) {
			return nil, fmt.Errorf("entry for action %d: %d payload fields, %d values",
				e.Action, len(e.Command.PayloadFields), len(e.Command.PayloadValues))
		}
		seen[e.Action] = true
		commands[e.Action] = e.Command
	}
	for a, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("no entry for action %d", a)
		}
	}
	return &Codec{commands: commands}, nil
}

// Len returns the number of actions the codec covers.
func (c *Codec) Len() int {
	return len(c.commands)
}

// Decode returns a copy of the command for action.
func (c *Codec) Decode(action int) (Command, error) {
	if action < 0 || action >= len(c.commands) {
		return Command{}, fmt.Errorf("decode %d: %w", action, ErrUnknownAction)
	}
	cmd := c.commands[action]
	return Command{
		Tag:           cmd.Tag,
		PayloadFields: append([]string(nil), cmd.PayloadFields...),
		PayloadValues: append([]bool(nil), cmd.PayloadValues...),
	}, nil
}
// #endregion codec

// #region lab-table
const tagBase = "http://example.org/was#"

// LabEntries is the lab's action table: for each actuator, the even index
// switches it off and the odd index switches it on.
func LabEntries() []Entry {
	actuators := []string{"Z1Light", "Z2Light", "Z1Blinds", "Z2Blinds"}
	entries := make([]Entry, 0, 2*len(actuators))
	for k, name := range actuators {
		for v := 0; v < 2; v++ {
			entries = append(entries, Entry{
				Action: 2*k + v,
				Command: Command{
					Tag:           tagBase + "Set" + name,
					PayloadFields: []string{name},
					PayloadValues: []bool{v == 1},
				},
			})
		}
	}
	return entries
}

// LabCodec returns the codec for the 8-action lab.
func LabCodec() *Codec {
	c, err := NewCodec(LabEntries(), 8)
	if err != nil {
		panic(fmt.Sprintf("lab action table: %v", err))
	}
	return c
}
// #endregion lab-table
