package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/opspulse/streammon/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatch upgrades to a websocket and streams the caller's live
// subscription: every event for the requested scope and categories that
// passes the per-delivery visibility check. Closing the socket (or the
// read loop seeing an error) tears the subscription down.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := model.Scope{
		TenantID:     q.Get("tenant_id"),
		FacilityID:   q.Get("facility_id"),
		FederationID: q.Get("federation_id"),
	}
	if scope.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	var categories []model.Category
	if raw := q.Get("categories"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			categories = append(categories, model.Category(c))
		}
	}

	ctx := policyContextFromHeaders(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	subID, events := s.engine.Subscribe(scope, categories, ctx)
	s.logger.Info("Watch started", "subscription_id", subID, "scope", scope.Key())

	// The read loop only exists to observe the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.engine.Unsubscribe(subID)
		conn.Close()
		s.logger.Info("Watch ended", "subscription_id", subID)
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("Failed to marshal event for watch", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Warn("Watch send failed", "subscription_id", subID, "error", err)
				return
			}
		}
	}
}
