package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-validation error
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId,omitempty"`
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// writeError logs err server-side and sends message to the client
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	requestID, _ := GetRequestID(r.Context())
	if logger != nil {
		fields := []interface{}{
			"status_code", statusCode,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
		}
		if err != nil {
			fields = append(fields, "error", err)
		}
		if statusCode >= http.StatusInternalServerError {
			logger.Errorw(message, fields...)
		} else {
			logger.Debugw(message, fields...)
		}
	}

	respondJSON(w, ErrorResponse{
		StatusCode: statusCode,
		Message:    message,
		RequestID:  requestID,
	}, statusCode, nil)
}

// getRealIP returns the client address, honoring forwarding headers only behind a trusted proxy
func getRealIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// extractBearerToken returns the token from an Authorization header, or "" when absent
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}
