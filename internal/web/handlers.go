package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/logging"
	"github.com/JonMunkholm/manifestgen/internal/pipeline"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Status())
}

// handleCreateManifest runs one invocation synchronously. The batch keeps
// running if the client disconnects; it is bounded by the batch timeout.
func (s *Server) handleCreateManifest(w http.ResponseWriter, r *http.Request) {
	var ev pipeline.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		respondError(w, r, errs.Wrap(errs.CodeInvalidEvent, fmt.Errorf("decode event: %w", err)), nil)
		return
	}

	ctx := logging.WithTrigger(context.WithoutCancel(r.Context()), "http", "")
	ctx, cancel := context.WithTimeout(ctx, s.batchTimeout())
	defer cancel()

	out, err := s.handler.Handle(ctx, ev)
	if err != nil {
		respondError(w, r, err, &out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
