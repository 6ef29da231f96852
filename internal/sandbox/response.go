package sandbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go-session-client/internal/model"
	"go-session-client/pkg/apierror"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	body := apierror.New(apierror.CodeInternal, "unexpected server error", "", http.StatusInternalServerError)

	var apiErr *apierror.APIError
	switch {
	case errors.As(err, &apiErr):
		body = apiErr
	case errors.Is(err, model.ErrInvalidInput):
		body = apierror.New(apierror.CodeBadRequest, "invalid input", err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrUnauthorized):
		body = apierror.New(apierror.CodeUnauthorized, "authentication required", "", http.StatusUnauthorized)
	default:
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	writeJSON(w, body.HTTPStatus, body)
}
