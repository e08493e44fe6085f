package kit

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPError carries the response status for an error raised by a decoder or
// an endpoint.
type HTTPError struct {
	Status int
	Err    error
}

func (e *HTTPError) Error() string { return e.Err.Error() }
func (e *HTTPError) Unwrap() error { return e.Err }

// HTTPHandler serves an Endpoint over HTTP. decode builds the endpoint's
// request; status maps an error to a response code and may return 0 to fall
// back to 400 for decode errors and 500 for endpoint errors. *HTTPError
// always wins. Successful responses are written as JSON.
func HTTPHandler(endpoint Endpoint, decode func(*http.Request) (any, error), status func(error) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := WithTransport(r.Context(), "http")

		req, err := decode(r)
		if err != nil {
			writeHTTPError(w, statusOf(err, status, http.StatusBadRequest), err)
			return
		}
		resp, err := endpoint(ctx, req)
		if err != nil {
			writeHTTPError(w, statusOf(err, status, http.StatusInternalServerError), err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func statusOf(err error, status func(error) int, fallback int) int {
	var he *HTTPError
	if errors.As(err, &he) && he.Status != 0 {
		return he.Status
	}
	if status != nil {
		if s := status(err); s != 0 {
			return s
		}
	}
	return fallback
}

func writeHTTPError(w http.ResponseWriter, code int, err error) {
	WriteJSON(w, code, map[string]string{"error": err.Error()})
}
