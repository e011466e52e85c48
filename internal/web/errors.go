package web

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/logging"
	"github.com/JonMunkholm/manifestgen/internal/pipeline"
)

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error  string           `json:"error"`
	Code   string           `json:"code"`
	Table  string           `json:"table,omitempty"`
	Output *pipeline.Output `json:"output,omitempty"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeInvalidEvent:
		return http.StatusBadRequest
	case errs.CodeConfig:
		return http.StatusServiceUnavailable
	case errs.CodeTransfer, errs.CodeIndexQuery, errs.CodeStoreWrite:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err with request context and writes a coded JSON body.
func respondError(w http.ResponseWriter, r *http.Request, err error, out *pipeline.Output) {
	code := errs.CodeOf(err)
	if code == "" {
		code = "E_INTERNAL"
	}
	status := statusFor(code)

	resp := ErrorResponse{Error: err.Error(), Code: string(code), Output: out}
	var te *pipeline.TableError
	if errors.As(err, &te) {
		resp.Table = te.Table
	}

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err,
	)
	writeJSON(w, status, resp)
}
