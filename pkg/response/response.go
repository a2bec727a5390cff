// Package response writes the JSON success envelope used by every handler.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"acctshop-api/pkg/apierror"
)

// Response represents a standard API response.
type Response struct {
	Success bool  `json:"success"`
	Data    any   `json:"data,omitempty"`
	Meta    *Meta `json:"meta,omitempty"`
}

// Meta contains offset pagination metadata.
type Meta struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

func write(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// JSON sends data with the given status code.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	write(w, statusCode, Response{Success: true, Data: data})
}

// JSONWithMeta sends a page of data with pagination metadata.
func JSONWithMeta(w http.ResponseWriter, statusCode int, data any, limit, offset int, total int64) {
	write(w, statusCode, Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{Limit: limit, Offset: offset, Total: total},
	})
}

// Error sends err as an API error. Anything that is not an *apierror.Error
// becomes a generic 500 so internals never leak.
func Error(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.InternalError("")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	_, _ = w.Write(apiErr.ToJSON())
}

// OK sends a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}
