package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/caetera/spectronaut-webui/internal/build"
	"github.com/caetera/spectronaut-webui/internal/controller"
	"github.com/caetera/spectronaut-webui/internal/registry"
)

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default_dir": s.cfg.DefaultDir,
		"port":        s.cfg.Port,
		"workflows":   []build.Workflow{build.WorkflowConvert, build.WorkflowDirectDIA},
	})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *Server) handleAddEntries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
	}

	if !readJSON(w, r, &req) {
		return
	}

	// Paths are staged in file-name order so the table matches the
	// browser's listing; already-staged paths are skipped.
	sort.Slice(req.Paths, func(i, j int) bool {
		return filepath.Base(req.Paths[i]) < filepath.Base(req.Paths[j])
	})

	added := 0

	for _, p := range req.Paths {
		info, err := os.Stat(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		_, err = s.registry.Add(p, registry.DetectKind(p, info.IsDir()))
		switch {
		case errors.Is(err, registry.ErrDuplicatePath):
			continue
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		added++
	}

	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *Server) handleRemoveEntries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}

	if !readJSON(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"removed": s.registry.Remove(req.IDs)})
}

func (s *Server) handleClearEntries(w http.ResponseWriter, r *http.Request) {
	s.registry.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkSetField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs   []string `json:"ids"`
		Field string   `json:"field"`
		Value string   `json:"value"`
	}

	if !readJSON(w, r, &req) {
		return
	}

	var err error
	if len(req.IDs) == 1 {
		err = s.registry.SetField(req.IDs[0], req.Field, req.Value)
	} else {
		err = s.registry.BulkSetField(req.IDs, req.Field, req.Value)
	}

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Workflow build.Workflow `json:"workflow"`
		Params   build.Params   `json:"params"`
	}

	if !readJSON(w, r, &req) {
		return
	}

	batch := &build.Batch{
		Entries:  s.registry.Snapshot(),
		Workflow: req.Workflow,
		Params:   req.Params,
	}

	id, err := s.controller.Submit(batch)
	if errors.Is(err, controller.ErrJobAlreadyActive) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.controller.Abort()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)

	select {
	case s.quit <- struct{}{}:
	default:
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
