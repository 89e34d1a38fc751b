package greeting

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
)

const (
	welcomeMessage   = "Welcome to Spring Docker App!"
	greetingTemplate = "Hello, %s!"
	defaultName      = "World"
	healthMessage    = "OK"

	contentTypeText = "text/plain; charset=utf-8"
)

// writeText writes a 200 plain text response.
func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		logger.Error("Failed to write response", "error", err)
	}
}

// Consolidate error responses to maintain a consistent format.
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]string{"error": message}
	err := json.NewEncoder(w).Encode(response)
	if err != nil {
		logger.Error("Failed to write error response", "error", err)
	}
}

// WelcomeHandler answers the root path.
func WelcomeHandler(w http.ResponseWriter, r *http.Request) {
	writeText(w, welcomeMessage)
}

// GreetingHandler greets the caller named by the "name" query parameter.
// A missing or empty name falls back to "World"; repeated values are joined with a comma.
func GreetingHandler(w http.ResponseWriter, r *http.Request) {
	writeText(w, greet(queryValues(r.URL.RawQuery)["name"]))
}

// queryValues parses a raw query keeping ';' as part of a value. url.ParseQuery
// drops any pair containing an unescaped ';'. Malformed pairs are skipped, as
// with URL.Query.
func queryValues(rawQuery string) url.Values {
	values, _ := url.ParseQuery(strings.ReplaceAll(rawQuery, ";", "%3B"))
	return values
}

func greet(names []string) string {
	name := strings.Join(names, ",")
	if name == "" {
		name = defaultName
	}
	return fmt.Sprintf(greetingTemplate, name)
}

// HealthHandler answers the liveness check. It does not check any dependency.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeText(w, healthMessage)
}

// NotFoundHandler answers every request that does not match a route, including
// known paths requested with a method other than GET.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
}

func (srv *Server) livezHandler(w http.ResponseWriter, r *http.Request) {
	srv.healthHandlerHelper(w, r, "alive", &srv.isLive)
}

func (srv *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	srv.healthHandlerHelper(w, r, "ready", &srv.isReady)
}

func (srv *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	srv.healthHandlerHelper(w, r, "ok", &srv.isLive)
}

func (srv *Server) healthHandlerHelper(w http.ResponseWriter, _ *http.Request, status string,
	state *atomic.Bool) {
	w.Header().Set("Content-Type", contentTypeText)
	if state.Load() {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(status)); err != nil {
			logger.Error(fmt.Sprintf("error writing endpoint status (%s)", status), "error", err)
		}
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("unhealthy")); err != nil {
			logger.Error(fmt.Sprintf("error writing endpoint status (%s)", status), "error", err)
		}
	}
}
