package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

func (s *Server) logRoutes(r chi.Router) {
	r.Post("/app_logs", s.handleAppLogs)
	r.Post("/function_logs", s.handleFunctionLogs)
	r.Get("/websocket_logs/{app_id}", s.handleWebsocketLogs)
}

type logsRequest struct {
	AppID      string `json:"appId"`
	FunctionID string `json:"functionId"`
	Level      string `json:"level"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Page       int    `json:"page"`
	Length     int    `json:"length"`
}

func (req *logsRequest) query() (store.LogQuery, bool) {
	q := store.LogQuery{
		AppID:      req.AppID,
		FunctionID: req.FunctionID,
		Level:      req.Level,
		Page:       req.Page,
		Length:     req.Length,
	}
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return q, false
		}
		q.Since = t
	}
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return q, false
		}
		q.Until = t
	}
	return q, true
}

func (s *Server) handleAppLogs(w http.ResponseWriter, r *http.Request) {
	var req logsRequest
	if err := decode(r, &req); err != nil || req.AppID == "" {
		fail(w, CodeValidation, "appId is required")
		return
	}
	q, valid := req.query()
	if !valid {
		fail(w, CodeValidation, "time filters must be RFC3339")
		return
	}
	entries, total, err := s.store.ListLogEntries(r.Context(), q)
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, map[string]interface{}{"items": entries, "total": total})
}

func (s *Server) handleFunctionLogs(w http.ResponseWriter, r *http.Request) {
	var req logsRequest
	if err := decode(r, &req); err != nil || req.AppID == "" || req.FunctionID == "" {
		fail(w, CodeValidation, "appId and functionId are required")
		return
	}
	q, valid := req.query()
	if !valid {
		fail(w, CodeValidation, "time filters must be RFC3339")
		return
	}
	entries, total, err := s.store.ListLogEntries(r.Context(), q)
	if err != nil {
		failErr(w, err)
		return
	}
	ok(w, map[string]interface{}{"items": entries, "total": total})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The management API already sits behind the proxy's origin; cross
	// origin websocket access is allowed like the rest of the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscription frames sent by the client
type wsFrame struct {
	Action     string `json:"action"`
	FunctionID string `json:"function_id"`
}

// handleWebsocketLogs streams log inserts for one app over a websocket.
// Clients may narrow the stream with subscribe/unsubscribe frames carrying
// a function_id; with no subscriptions every entry of the app flows.
func (s *Server) handleWebsocketLogs(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app_id")
	if appID == "" {
		http.Error(w, "app_id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var (
		mu      sync.Mutex
		filters = make(map[string]bool)
		writeMu sync.Mutex
	)
	matches := func(entry *types.LogEntry) bool {
		mu.Lock()
		defer mu.Unlock()
		if len(filters) == 0 {
			return true
		}
		return filters[entry.FunctionID]
	}

	ctx := r.Context()
	go s.logFeed.WatchLogs(ctx, appID, func(entry *types.LogEntry) {
		if !matches(entry) {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(entry); err != nil {
			s.logger.Debug().Err(err).Str("app_id", appID).Msg("websocket write failed")
		}
	})

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		mu.Lock()
		switch frame.Action {
		case "subscribe":
			if frame.FunctionID != "" {
				filters[frame.FunctionID] = true
			}
		case "unsubscribe":
			delete(filters, frame.FunctionID)
		}
		mu.Unlock()
	}
}
