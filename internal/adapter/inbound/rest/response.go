package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/groupgate/groupgate/internal/policy"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// hiddenMessage is the single message used for unknown resources and
// insufficient permissions, so callers cannot probe for existence.
const hiddenMessage = "the resource does not exist or access is denied"

type errorResponse struct {
	Error       string   `json:"error"`
	Property    string   `json:"property,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeHidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: hiddenMessage})
}

// writeError maps domain errors onto the API's error contract.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := LoggerFromContext(ctx)

	var accessDenied *policy.AccessDeniedError
	var invalidInput *policy.InvalidInputError
	var unsatisfied *policy.ConstraintUnsatisfiedError
	var failed *policy.ConstraintFailedError

	switch {
	case errors.As(err, &accessDenied):
		// Collapsed with not-found; the reason is logged, not leaked.
		logger.Info("access denied", slog.String("reason", accessDenied.Reason))
		writeHidden(w)

	case errors.As(err, &invalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:    invalidInput.Error(),
			Property: invalidInput.Property,
		})

	case errors.As(err, &unsatisfied):
		names := make([]string, len(unsatisfied.Constraints))
		for i, c := range unsatisfied.Constraints {
			names[i] = c.Name()
		}
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:       "one or more constraints are not satisfied",
			Constraints: names,
		})

	case errors.As(err, &failed):
		logger.Error("constraint evaluation failed", slog.String("error", failed.Error()))
		names := make([]string, len(failed.Failures))
		for i, f := range failed.Failures {
			names[i] = f.Constraint.Name()
		}
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:       "one or more constraints failed to evaluate",
			Constraints: names,
		})

	case errors.Is(err, outbound.ErrTokenVerification):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "the token is invalid or expired"})

	case errors.Is(err, outbound.ErrResourceNotFound):
		writeHidden(w)

	case errors.Is(err, outbound.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "concurrent modification, please retry"})

	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
