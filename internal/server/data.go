package server

import (
	"encoding/json"
	"io"

	"github.com/rudrab06/PP-FedSLAM/internal/coordinator"
)

func toJSON(i interface{}, w io.Writer) error {
	e := json.NewEncoder(w)
	return e.Encode(i)
}

func fromJSON(i interface{}, r io.Reader) error {
	d := json.NewDecoder(r)
	return d.Decode(i)
}

type StartRunRequest struct {
	RunConfig coordinator.RunConfig `json:"runConfig"`
}

type GlobalModelResponse struct {
	Round      int32     `json:"round"`
	Parameters []float64 `json:"parameters"`
}
