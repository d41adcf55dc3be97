package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kalambet/prefsd/internal/notify"
	"github.com/kalambet/prefsd/internal/settings"
)

const eventBuffer = 32

// ChangeEvent is the data payload of a "change" server-sent event.
type ChangeEvent struct {
	Key        string `json:"key"`
	StorageKey string `json:"storage_key"`
	Old        any    `json:"old"`
	New        any    `json:"new"`
	Source     string `json:"source,omitempty"`
}

func newChangeEvent(c settings.Change) ChangeEvent {
	ev := ChangeEvent{Key: c.Key, StorageKey: c.Key, Old: c.Old, New: c.New, Source: c.Source}
	key, err := settings.ParseKey(c.Key)
	if err != nil {
		return ev
	}
	ev.Key = key.String()
	if key.Secret() {
		ev.Old = redact(c.Old)
		ev.New = redact(c.New)
	}
	return ev
}

func redact(v any) any {
	if s, _ := v.(string); s == "" {
		return v
	}
	return settings.RedactedValue
}

// handleEvents streams setting changes as server-sent events until the
// client disconnects. ?key= limits the stream to one setting.
func handleEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		ch := make(chan settings.Change, eventBuffer)
		push := func(c settings.Change) {
			select {
			case ch <- c:
			default:
				deps.Logger.Warn("settings event dropped, client too slow", "key", c.Key)
			}
		}

		var sub *notify.Subscription
		if name := r.URL.Query().Get("key"); name != "" {
			key, err := settings.ParseKey(name)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			sub = deps.Settings.SubscribeKey(key, push)
		} else {
			sub = deps.Settings.Subscribe(push)
		}
		defer sub.Unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case c := <-ch:
				data, err := json.Marshal(newChangeEvent(c))
				if err != nil {
					deps.Logger.Error("encoding settings event", "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
