package net

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"orbfall/server/internal/session"
	"orbfall/server/internal/telemetry"
)

// Hub is the broadcast-side surface the diagnostics handlers read from.
type Hub interface {
	Latest() session.Snapshot
	SubscriberCount() int
}

type HTTPHandlerConfig struct {
	Counters  *telemetry.Counters
	LogStats  func() any
	TickRate  int
	Heartbeat time.Duration
}

type diagPeer struct {
	ID         string   `json:"id"`
	Controlled []string `json:"controlled"`
}

type diagObject struct {
	ID           string  `json:"id"`
	OwnedBy      string  `json:"ownedBy,omitempty"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Owner        string  `json:"owner"`
	ControlledBy string  `json:"controlledBy"`
}

// NewHTTPHandler builds the health and diagnostics mux. The websocket
// endpoint is registered by the caller alongside this handler.
func NewHTTPHandler(hub Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		snapshot := hub.Latest()

		peers := make([]diagPeer, 0, len(snapshot.Peers))
		for _, view := range snapshot.Peers {
			controlled := make([]string, len(view.Controlled))
			for i, id := range view.Controlled {
				controlled[i] = string(id)
			}
			peers = append(peers, diagPeer{ID: string(view.ID), Controlled: controlled})
		}

		objects := make([]diagObject, 0, len(snapshot.Objects))
		for _, view := range snapshot.Objects {
			objects = append(objects, diagObject{
				ID:           string(view.ID),
				OwnedBy:      string(view.Parent),
				X:            view.Position.X,
				Y:            view.Position.Y,
				Owner:        view.Owner,
				ControlledBy: view.ControlledBy,
			})
		}

		payload := struct {
			Status      string            `json:"status"`
			ServerTime  int64             `json:"serverTime"`
			Tick        uint64            `json:"tick"`
			TickRate    int               `json:"tickRate"`
			Heartbeat   int64             `json:"heartbeatMillis"`
			Subscribers int               `json:"subscribers"`
			Peers       []diagPeer        `json:"peers"`
			Objects     []diagObject      `json:"objects"`
			Metrics     map[string]uint64 `json:"metrics,omitempty"`
			Logging     any               `json:"logging,omitempty"`
		}{
			Status:      "ok",
			ServerTime:  time.Now().UnixMilli(),
			Tick:        snapshot.Tick,
			TickRate:    cfg.TickRate,
			Heartbeat:   cfg.Heartbeat.Milliseconds(),
			Subscribers: hub.SubscriberCount(),
			Peers:       peers,
			Objects:     objects,
		}
		if cfg.Counters != nil {
			payload.Metrics = cfg.Counters.Snapshot()
		}
		if cfg.LogStats != nil {
			payload.Logging = cfg.LogStats()
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	return mux
}

func httpError(w nethttp.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
