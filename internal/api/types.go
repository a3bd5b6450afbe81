package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// #region requests
// numeric accepts a JSON number or a numeric string and keeps its text.
type numeric string

func (n *numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numeric(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected number or numeric string: %w", err)
	}
	*n = numeric(num.String())
	return nil
}

// TrainRequest carries the hyperparameters of a training call.
type TrainRequest struct {
	Episodes numeric `json:"episodes"`
	Alpha    numeric `json:"alpha"`
	Gamma    numeric `json:"gamma"`
	Epsilon  numeric `json:"epsilon"`
	Reward   numeric `json:"reward"`
}

// NextActionRequest optionally describes the state to act from.
type NextActionRequest struct {
	State []int `json:"state,omitempty"`
}
// #endregion requests

// #region responses
// TrainResponse reports the outcome of a training call.
type TrainResponse struct {
	Goal       string `json:"goal"`
	Skipped    bool   `json:"skipped"`
	RunID      string `json:"run_id"`
	Episodes   int    `json:"episodes"`
	TotalSteps int    `json:"total_steps"`
}

// NextActionResponse is the decoded command for the recommended action.
type NextActionResponse struct {
	Tag           string   `json:"tag"`
	PayloadFields []string `json:"payload_fields"`
	PayloadValues []bool   `json:"payload_values"`
	Action        int      `json:"action"`
	State         int      `json:"state"`
}

// ZoneLevelsResponse holds the current zone levels.
type ZoneLevelsResponse struct {
	Z1 int `json:"z1"`
	Z2 int `json:"z2"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
// #endregion responses
