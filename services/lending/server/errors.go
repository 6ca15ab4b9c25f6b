package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"moneymarket/services/lending/api"
)

const maxRequestBody = 1 << 16

func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("%w: missing request body", api.ErrInvalidRequest)
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", api.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: decode request: %v", api.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	wire, status := api.ToError(err)
	writeJSON(w, status, wire)
}
