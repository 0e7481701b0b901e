package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

type rawBodyKey struct{}

// rawBodyLimit caps how much a raw-body route buffers. Larger payloads fail
// loudly instead of exhausting memory.
const rawBodyLimit = 10 << 20 // 10 MiB

// captureRawBody buffers the request body and stores the bytes on the
// context while leaving r.Body readable for the handler's own decoding.
func captureRawBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, rawBodyLimit+1))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > rawBodyLimit {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), rawBodyKey{}, body)))
	})
}

// RawBodyFrom returns the buffered request body for routes declared with
// RawBody, or nil for everything else.
func RawBodyFrom(ctx context.Context) []byte {
	body, _ := ctx.Value(rawBodyKey{}).([]byte)
	return body
}
