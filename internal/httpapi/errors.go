// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/keyward/keyward/pkg/errutil"
)

type errorBody struct {
	Error string `json:"error"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch errutil.KindOf(err) {
	case errutil.KindInvalidInput:
		return http.StatusBadRequest
	case errutil.KindNotFound:
		return http.StatusNotFound
	case errutil.KindForbidden:
		return http.StatusForbidden
	case errutil.KindConflict:
		return http.StatusConflict
	case errutil.KindRateLimited:
		return http.StatusTooManyRequests
	case errutil.KindDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": message}. Internal errors are logged
// and reported without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		errutil.LogError(logger, "request failed", err)
	} else {
		logger.Debug("request rejected", "status", status, "kind", string(errutil.KindOf(err)))
	}
	writeJSON(w, logger, status, errorBody{Error: errutil.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}
