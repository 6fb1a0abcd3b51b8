package errx

import (
	"encoding/json"
	"net/http"
)

// HTTPErrorResponse is the standard JSON error envelope.
type HTTPErrorResponse struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Type       string                 `json:"type"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"status_code"`
}

// ToHTTPResponse converts an Error to its JSON envelope.
func (e *Error) ToHTTPResponse() HTTPErrorResponse {
	return HTTPErrorResponse{
		Code:       e.Code,
		Message:    e.Message,
		Type:       string(e.Type),
		Details:    e.Details,
		StatusCode: e.HTTPStatus,
	}
}

// WriteHTTP writes the error as an HTTP response.
func (e *Error) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	json.NewEncoder(w).Encode(e.ToHTTPResponse())
}

// HandleError writes err to w, mapping unknown errors to 500.
func HandleError(w http.ResponseWriter, err error) {
	var custom *Error
	if As(err, &custom) {
		custom.WriteHTTP(w)
		return
	}
	New(err.Error(), TypeInternal).WriteHTTP(w)
}
