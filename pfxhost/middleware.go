package pfxhost

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Middleware wraps an http.Handler with additional functionality
type Middleware func(http.Handler) http.Handler

type contextKey string

const (
	contextKeyRequestID        = contextKey("reqID")
	contextKeyRequestStartTime = contextKey("reqStartTime")
)

// setRequestID is a middleware that generates a random ID for each
// request processed by the hosting server, used to correlate logs.
func setRequestID() Middleware {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := make([]rune, 16)
			letters := []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
			for i := range rid {
				rid[i] = letters[rand.Intn(len(letters))]
			}
			h.ServeHTTP(w, addToContext(r, contextKeyRequestID, string(rid)))
		})
	}
}

// logRequest writes one log line per request served by the hosting
// server. It runs last so it can time the whole chain.
func logRequest() Middleware {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t1 := time.Now()
			h.ServeHTTP(w, r)
			log.WithFields(log.Fields{
				"remoteAddress": r.RemoteAddr,
				"method":        r.Method,
				"proto":         r.Proto,
				"url":           r.URL.String(),
				"ua":            r.UserAgent(),
				"rid":           getRequestID(r),
				"t":             time.Since(t1) / time.Millisecond,
			}).Info("request")
		})
	}
}

// handleMiddlewares runs the request through all middlewares in the
// order in which they are specified.
func handleMiddlewares(h http.Handler, adapters ...Middleware) http.Handler {
	for i := len(adapters) - 1; i >= 0; i-- {
		h = adapters[i](h)
	}
	return h
}

func addToContext(r *http.Request, key contextKey, value interface{}) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), key, value))
}

func getRequestID(r *http.Request) string {
	val := r.Context().Value(contextKeyRequestID)
	if val != nil {
		return val.(string)
	}
	return "-"
}
