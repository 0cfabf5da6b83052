package captureapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/mnemon/internal/event"
)

type skippedEvent struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

func (a *API) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	var wh event.Webhook
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if wh.WorkspaceID == "" {
		http.Error(w, `{"error":"workspace_id is required"}`, http.StatusBadRequest)
		return
	}

	var (
		accepted []string
		skipped  []skippedEvent
	)

	for i := range wh.Events {
		ev := &wh.Events[i]
		if ev.SourceID == "" {
			skipped = append(skipped, skippedEvent{Reason: "missing source_id"})
			continue
		}

		res, err := a.svc.Submit(r.Context(), wh.WorkspaceID, ev)
		if err != nil {
			a.logger.Error(r.Context(), err, "event submit failed",
				"workspace_id", wh.WorkspaceID,
				"source_id", ev.SourceID,
			)
			skipped = append(skipped, skippedEvent{SourceID: ev.SourceID, Reason: "internal error"})
			continue
		}
		if !res.Accepted {
			skipped = append(skipped, skippedEvent{SourceID: res.SourceID, Reason: res.Reason})
			continue
		}
		accepted = append(accepted, res.SourceID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted": accepted,
		"skipped":  skipped,
	})
}
