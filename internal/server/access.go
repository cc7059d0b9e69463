package server

import (
	"net/http"

	"github.com/ssd-technologies/keyledger/internal/registry"
)

// handleAccessKeys handles GET /api/access/{identity}: the identity's full
// grant history.
func (s *Server) handleAccessKeys(w http.ResponseWriter, r *http.Request) {
	id := registry.Identity(r.PathValue("identity"))
	if err := id.Validate(); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": id,
		"keys":     s.reg.AccessKeysOf(id),
	})
}

// handleHasAccessKey handles GET /api/access/{identity}/{index}. An index past
// the end is simply not held.
func (s *Server) handleHasAccessKey(w http.ResponseWriter, r *http.Request) {
	id := registry.Identity(r.PathValue("identity"))
	if err := id.Validate(); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":   id,
		"index":      index,
		"has_access": s.reg.HasAccessKey(index, id),
	})
}
