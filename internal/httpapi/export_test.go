package httpapi

import "net/http"

// ServeHTTP exposes the underlying Echo router to external _test packages,
// following the export_test.go seam rather than widening Server's real API.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.ec.ServeHTTP(w, r)
}
