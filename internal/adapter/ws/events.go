package ws

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/Boardroom/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// treeRef picks the decision tree out of lifecycle, score and decision
// payloads.
type treeRef struct {
	TreeID         string `json:"tree_id"`
	DecisionTreeID string `json:"decision_tree_id"`
}

// BroadcastEvent marshals a typed event and broadcasts it. The tree id is
// lifted into the envelope so tree-scoped clients can be filtered.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var ref treeRef
	_ = json.Unmarshal(data, &ref)

	h.Broadcast(ctx, Message{
		Type:    eventType,
		TreeID:  cmp.Or(ref.TreeID, ref.DecisionTreeID),
		Payload: json.RawMessage(data),
	})
}
