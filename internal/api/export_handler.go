package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
	"github.com/heimdex/heimdex-clipper/internal/export"
)

// exportEDL writes one record's pairs as an EDL. The in-memory session copy
// wins over the persisted file so unsaved marks are exported too.
func (h *handlers) exportEDL(w http.ResponseWriter, r *http.Request) {
	var req export.EDLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if strings.TrimSpace(req.Record) == "" {
		WriteError(w, http.StatusBadRequest, "record is required", "BAD_REQUEST")
		return
	}
	if err := export.ValidateOutputDir(req.OutputDir); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}

	rec, err := h.lookupRecord(r, req.Record)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	if rec == nil {
		WriteError(w, http.StatusNotFound, "record not found", "NOT_FOUND")
		return
	}

	store := annotation.NewStore(rec)
	pairs := store.Pairs()
	if len(pairs) == 0 {
		WriteError(w, http.StatusUnprocessableEntity, "record has no complete pairs", "NO_PAIRS")
		return
	}

	inverted := make([]int, 0)
	for _, p := range store.InvertedPairs() {
		inverted = append(inverted, p.Index)
	}

	title := req.Title
	if title == "" {
		title = rec.Name
	}
	fps := req.FrameRate
	if fps <= 0 {
		fps = export.DefaultFrameRate
	}

	content := export.GenerateEDL(export.ClipsFromPairs(rec.Name, rec.Path, pairs), title, fps)
	path, err := export.WriteEDL(req.OutputDir, title, content)
	if err != nil {
		h.cfg.Logger.Error("failed to write edl", "record", rec.Name, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to write edl", "INTERNAL_ERROR")
		return
	}

	h.cfg.Logger.Info("edl exported", "record", rec.Name, "clips", len(pairs), "inverted", len(inverted))
	WriteJSON(w, http.StatusOK, export.ExportResponse{
		Status:        "ok",
		Format:        "edl",
		OutputPath:    path,
		ClipCount:     len(pairs),
		InvertedPairs: inverted,
	})
}

func (h *handlers) lookupRecord(r *http.Request, name string) (*annotation.Record, error) {
	if h.cfg.Session != nil {
		h.mu.Lock()
		rec, ok := h.cfg.Session.Lookup(name)
		if ok {
			rec = rec.Clone()
		}
		h.mu.Unlock()
		if ok {
			return rec, nil
		}
	}
	if h.cfg.Records == nil {
		return nil, nil
	}
	return h.cfg.Records.Load(r.Context(), name)
}
