package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/volcanicminds/volcanic-backend/internal/apierror"
)

// codeBadRequest covers handler-level input validation, which sits outside
// the security rejection taxonomy.
const codeBadRequest = "BAD_REQUEST"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, message string) {
	apierror.Write(w, http.StatusBadRequest, codeBadRequest, message)
}
