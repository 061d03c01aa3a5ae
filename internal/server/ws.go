package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	checkWSPushInterval = 1 * time.Second
	checkWSWriteTimeout = 5 * time.Second
)

var checkWSUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// checkWSFrame is one push on the watch socket. Type is "event" for a single
// check event and "status" for a snapshot of the check itself.
type checkWSFrame struct {
	Type  string         `json:"type"`
	Event *CheckEvent    `json:"event,omitempty"`
	Check map[string]any `json:"check,omitempty"`
}

func (a *API) handleCheckWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing check id")
		return
	}
	if _, ok := a.store.GetCheck(id); !ok {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}
	cursor := parseCursor(r)
	conn, err := checkWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	a.serveCheckConnection(conn, id, cursor)
}

func (a *API) serveCheckConnection(conn *websocket.Conn, checkID string, cursor int64) {
	defer conn.Close()

	meta, ok := a.store.GetCheck(checkID)
	if !ok {
		return
	}
	lastStatus := meta.Status
	if err := writeCheckFrame(conn, checkWSFrame{Type: "status", Check: publicCheckView(meta)}); err != nil {
		return
	}

	ticker := time.NewTicker(checkWSPushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			events := a.store.ListCheckEvents(checkID, cursor)
			for i := range events {
				event := events[i]
				if err := writeCheckFrame(conn, checkWSFrame{Type: "event", Event: &event}); err != nil {
					return
				}
				cursor = event.Seq
			}
			meta, ok := a.store.GetCheck(checkID)
			if !ok {
				return
			}
			terminal := meta.Status == "done" || meta.Status == "error"
			if meta.Status != lastStatus || terminal {
				lastStatus = meta.Status
				if err := writeCheckFrame(conn, checkWSFrame{Type: "status", Check: publicCheckView(meta)}); err != nil {
					return
				}
			}
			if terminal {
				return
			}
		case <-done:
			return
		}
	}
}

func writeCheckFrame(conn *websocket.Conn, frame checkWSFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(checkWSWriteTimeout))
	return conn.WriteJSON(frame)
}
