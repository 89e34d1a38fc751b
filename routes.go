package greeting

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// healthPath is the liveness route. Rate limiting never applies to it.
const healthPath = "/health"

// Route binds a method and an exact path to a handler.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes is the dispatch table of the application listener.
// It is built once and never mutated after the server starts.
func Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Path: "/", Handler: WelcomeHandler},
		{Method: http.MethodGet, Path: "/greeting", Handler: GreetingHandler},
		{Method: http.MethodGet, Path: healthPath, Handler: HealthHandler},
	}
}

// newRouter compiles a route table into a chi router. A path that exists under
// another method is answered with 404, not 405.
func newRouter(routes []Route) *chi.Mux {
	r := chi.NewRouter()
	r.NotFound(NotFoundHandler)
	r.MethodNotAllowed(NotFoundHandler)
	for _, rt := range routes {
		r.MethodFunc(rt.Method, rt.Path, rt.Handler)
	}
	return r
}
