// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, status, and duration of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// hijacked for a websocket upgrade, or nothing was written
				status = http.StatusSwitchingProtocols
			}
			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogWebSocketConnect logs a message when a participant's websocket is
// accepted and bound to a channel.
func LogWebSocketConnect(logger *logrus.Logger, remoteAddr, participantID, channelID string) {
	logger.WithFields(logrus.Fields{
		"remote":      remoteAddr,
		"participant": participantID,
		"channel":     channelID,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a message when a websocket read pump exits.
func LogWebSocketDisconnect(logger *logrus.Logger, remoteAddr, participantID, channelID string, err error) {
	fields := logrus.Fields{
		"remote":      remoteAddr,
		"participant": participantID,
		"channel":     channelID,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
