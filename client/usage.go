package client

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// EndpointUsage is the set of "METHOD PATH" pairs the pipeline has sent.
// Diagnostic only, nothing reads it to make a decision.
type EndpointUsage struct {
	mu        sync.Mutex
	endpoints map[string]struct{}
}

func NewEndpointUsage() *EndpointUsage {
	return &EndpointUsage{endpoints: make(map[string]struct{})}
}

// Record adds the normalised endpoint of req
func (u *EndpointUsage) Record(req *http.Request) {
	key := EndpointKey(req.Method, req.URL.Path)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.endpoints[key] = struct{}{}
}

// Endpoints returns a sorted snapshot
func (u *EndpointUsage) Endpoints() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.endpoints))
	for k := range u.endpoints {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (u *EndpointUsage) Contains(method, path string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.endpoints[EndpointKey(method, path)]
	return ok
}

// EndpointKey normalises method and path: upper-case method (GET when empty),
// path without query, "/" when empty.
func EndpointKey(method, path string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}
	return method + " " + path
}
