// Package logger holds the application-wide structured logger built on
// Uber's zap, plus an HTTP middleware that logs every served request.
package logger

import (
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Log is the global sugared zap logger. It must be initialized via Init()
// before use; zap.NewNop keeps it safe to call in tests that skip Init.
var Log = zap.NewNop().Sugar()

// Init builds the global logger at the given level ("debug", "info", ...).
func Init(level string) error {
	parsedLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = parsedLevel
	builtLogger, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = builtLogger.Sugar()

	return nil
}

// Sync flushes buffered entries. Syncing a console logger on some platforms
// yields os.ErrInvalid, which is not worth surfacing.
func Sync() error {
	if err := Log.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}

	return nil
}

type servedResponse struct {
	status int
	size   int
}

type observingResponseWriter struct {
	http.ResponseWriter
	served *servedResponse
}

func (w *observingResponseWriter) Write(b []byte) (int, error) {
	size, err := w.ResponseWriter.Write(b)
	w.served.size += size

	return size, err
}

func (w *observingResponseWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.served.status = statusCode
}

// WithLoggingHTTPMiddleware logs the method, URI, status, duration and body
// size of every request passing through it.
func WithLoggingHTTPMiddleware(next http.Handler) http.Handler {
	logFn := func(response http.ResponseWriter, request *http.Request) {
		start := time.Now()

		served := &servedResponse{}
		observing := &observingResponseWriter{
			ResponseWriter: response,
			served:         served,
		}
		next.ServeHTTP(observing, request)

		Log.Infoln(
			"uri", request.RequestURI,
			"method", request.Method,
			"status", served.status,
			"duration", time.Since(start),
			"size", served.size,
		)
	}

	return http.HandlerFunc(logFn)
}
