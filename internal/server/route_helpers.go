package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/transitwatch/internal/handlers"
)

// MethodRouter maps HTTP methods to the handler serving them on one path
type MethodRouter map[string]http.HandlerFunc

// RouteByMethod dispatches on r.Method. Unlisted methods get 405 with an Allow header.
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	if handler, ok := routes[r.Method]; ok {
		handler(w, r)
		return
	}

	allowed := make([]string, 0, len(routes))
	for method := range routes {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	handlers.WriteError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
}
