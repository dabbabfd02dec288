package replay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/domreplay/tree"
)

// maxBody caps request bodies; inline HTML documents are the largest.
const maxBody = 8 << 20

// Handler exposes the Service over HTTP.
//
//	GET    /healthz
//	POST   /sessions                  OpenRequest -> SessionInfo
//	GET    /sessions/{id}             SessionInfo
//	POST   /sessions/{id}/advance     AdvanceResult
//	POST   /sessions/{id}/diff        []event.Change
//	GET    /sessions/{id}/paths       ?selector= or ?xpath= -> []path
//	GET    /sessions/{id}/node        ?path= -> NodeInfo
//	DELETE /sessions/{id}
//	POST   /runs                      OpenRequest -> event.Run
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBody))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleOpen)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleInfo)
			r.Post("/advance", s.handleAdvance)
			r.Post("/diff", s.handleDiff)
			r.Get("/paths", s.handlePaths)
			r.Get("/node", s.handleNode)
			r.Delete("/", s.handleClose)
		})
	})

	r.Post("/runs", s.handleRun)
	return r
}

func (s *Service) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := s.Open(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.Info(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleAdvance(w http.ResponseWriter, r *http.Request) {
	res, err := s.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleDiff(w http.ResponseWriter, r *http.Request) {
	changes, err := s.Diff(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Service) handlePaths(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	paths, err := s.FindPaths(r.Context(), chi.URLParam(r, "id"), q.Get("selector"), q.Get("xpath"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paths)
}

func (s *Service) handleNode(w http.ResponseWriter, r *http.Request) {
	info, err := s.Node(r.Context(), chi.URLParam(r, "id"), tree.Path(r.URL.Query().Get("path")))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.Close(chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.Replay(r.Context(), req)
	if err != nil && run.ID == "" {
		s.fail(w, err)
		return
	}
	// A failed run still has a summary worth returning.
	writeJSON(w, http.StatusOK, run)
}

func (s *Service) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		s.logger.Error("replay: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
