package qtable

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// #region encode
// Encode renders tables as an indented JSON object of row-major matrices.
// encoding/json writes float64 in shortest round-trip form, so Decode
// reproduces the exact values.
func Encode(t Tables) ([]byte, error) {
	doc := make(map[string][][]float64, len(t))
	for k, m := range t {
		doc[k] = matrixRows(m)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode q-tables: %w", err)
	}
	return data, nil
}

func encodeMatrix(m *mat.Dense) (string, error) {
	data, err := json.Marshal(matrixRows(m))
	if err != nil {
		return "", fmt.Errorf("encode matrix: %w", err)
	}
	return string(data), nil
}

func matrixRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	return rows
}
// #endregion encode

// #region decode
// Decode parses the document written by Encode.
func Decode(data []byte) (Tables, error) {
	var doc map[string][][]float64
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode q-tables: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode q-tables: document is not an object")
	}
	t := make(Tables, len(doc))
	for k, rows := range doc {
		if _, err := ParseGoalKey(k); err != nil {
			return nil, err
		}
		m, err := matrixFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("goal %s: %w", k, err)
		}
		t[k] = m
	}
	return t, nil
}

func decodeMatrix(s string) (*mat.Dense, error) {
	var rows [][]float64
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil, fmt.Errorf("decode matrix: %w", err)
	}
	return matrixFromRows(rows)
}

func matrixFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty matrix: %w", ErrShapeMismatch)
	}
	cols := len(rows[0])
	flat := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d: %w", i, len(row), cols, ErrShapeMismatch)
		}
		flat = append(flat, row...)
	}
	return mat.NewDense(len(rows), cols, flat), nil
}
// #endregion decode
