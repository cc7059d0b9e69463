package server

import (
	"encoding/hex"
	"net/http"

	"github.com/ssd-technologies/keyledger/internal/registry"
)

// addFileRequest is the JSON body for depositing a file. Byte fields are
// base64 encoded.
type addFileRequest struct {
	registry.Payload
	WrappedKey []byte `json:"wrapped_key"`
}

// grantRequest is the JSON body for granting a wrapped key.
type grantRequest struct {
	Grantee    string `json:"grantee"`
	WrappedKey []byte `json:"wrapped_key"`
}

// handleAddFile handles POST /api/files: store a file and its self-grant.
func (s *Server) handleAddFile(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	amount, ok := payment(w, r)
	if !ok {
		return
	}

	var req addFileRequest
	if !decodeBody(w, body, &req) {
		return
	}

	index, err := s.reg.AddFile(r.Context(), caller, req.Payload, req.WrappedKey, amount)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.metrics.files.Inc(1)
	addAmount(s.metrics.collected, amount)

	writeJSON(w, http.StatusCreated, map[string]any{
		"index":  index,
		"size":   req.Payload.Size(),
		"fee":    amount,
		"holder": caller,
	})
}

// handleFileCount handles GET /api/files/count.
func (s *Server) handleFileCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"count": s.reg.FileCount()})
}

// handleHolders handles GET /api/files/{index}/holders.
func (s *Server) handleHolders(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	holders, err := s.reg.AccessHolders(index)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":   index,
		"count":   len(holders),
		"holders": holders,
	})
}

// handleGetFile handles GET /api/files/{index}: resolve the encrypted
// payload for a caller holding an access key.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	caller, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	f, err := s.reg.FileFor(index, caller)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"index":            f.Index,
		"ciphertext":       f.Ciphertext,
		"encrypted_name":   f.EncryptedName,
		"encrypted_folder": f.EncryptedFolder,
		"encrypted_kind":   f.EncryptedKind,
		"iv":               f.IV,
		"digest":           hex.EncodeToString(f.Digest[:]),
		"created_at":       f.CreatedAt,
		"sequence":         f.Sequence,
	})
}

// handleGrant handles POST /api/files/{index}/grants: hand a wrapped key to
// another identity.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	amount, ok := payment(w, r)
	if !ok {
		return
	}

	var req grantRequest
	if !decodeBody(w, body, &req) {
		return
	}

	grantee := registry.Identity(req.Grantee)
	if err := s.reg.Grant(r.Context(), caller, index, grantee, req.WrappedKey, amount); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.metrics.grants.Inc(1)
	addAmount(s.metrics.collected, amount)

	writeJSON(w, http.StatusCreated, map[string]any{
		"index":   index,
		"grantee": grantee,
		"grantor": caller,
	})
}
