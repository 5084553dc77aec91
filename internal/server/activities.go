package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/silvanus-labs/greenchain/internal/activity"
	"github.com/silvanus-labs/greenchain/internal/version"
)

// Submission endpoint versions. Unversioned requests are served as legacy.
const (
	VersionLegacy = "legacy"
	VersionV1     = "v1"
	VersionV2     = "v2"
)

func knownVersion(v string) bool {
	switch v {
	case VersionLegacy, VersionV1, VersionV2:
		return true
	}
	return false
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.Commit,
		"build_time": version.BuildTime,
	})
}

func (s *Server) handleActivityTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, activity.Catalog())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	v := chi.URLParam(r, "version")
	if v == "" {
		v = VersionLegacy
	}
	if !knownVersion(v) {
		s.writeError(w, r, errNotFound)
		return
	}

	var sub activity.Submission
	if err := decodeJSON(r, &sub); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.rewards.Submit(r.Context(), v, identityFrom(r.Context()), sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
