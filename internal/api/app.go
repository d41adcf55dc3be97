package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/prefsd/internal/settings"
)

const maxRequestBodySize = 1 << 20 // 1MB

// RawLister exposes the raw stored strings, as opposed to the parsed cache.
type RawLister interface {
	All() (map[string]string, error)
}

type AppDeps struct {
	Settings *settings.Store
	Token    string
	Raw      RawLister // optional; if nil, /settings/raw is not served
	Logger   *slog.Logger
}

// SettingValue is the wire form of a single setting.
type SettingValue struct {
	Key        string `json:"key"`
	StorageKey string `json:"storage_key"`
	Type       string `json:"type"`
	Value      any    `json:"value"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/settings", handleGetSettings(deps))
		r.Patch("/settings", handlePatchSettings(deps))
		r.Get("/settings/events", handleEvents(deps))
		if deps.Raw != nil {
			r.Get("/settings/raw", handleGetRaw(deps))
		}
		r.Get("/settings/{key}", handleGetSetting(deps))
		r.Put("/settings/{key}", handlePutSetting(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Settings.Snapshot())
	}
}

func handleGetSetting(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := settings.ParseKey(chi.URLParam(r, "key"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, settingValue(key, deps.Settings.Get(key)))
	}
}

func handlePutSetting(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := settings.ParseKey(chi.URLParam(r, "key"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var body struct {
			Value any `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := checkScalar(key, body.Value); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if err := deps.Settings.UpdateFrom("api", key, body.Value); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update %s: %v", key, err)
			return
		}
		writeJSON(w, http.StatusOK, settingValue(key, deps.Settings.Get(key)))
	}
}

func handlePatchSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		// Validate everything before writing anything.
		names := make([]string, 0, len(fields))
		keys := make(map[string]settings.Key, len(fields))
		for name, value := range fields {
			key, err := settings.ParseKey(name)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			if err := checkScalar(key, value); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			names = append(names, name)
			keys[name] = key
		}
		sort.Strings(names)

		for _, name := range names {
			if err := deps.Settings.UpdateFrom("api", keys[name], fields[name]); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to update %s: %v", name, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, deps.Settings.Snapshot())
	}
}

func handleGetRaw(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := deps.Raw.All()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read storage: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, raw)
	}
}

var errNotScalar = errors.New("value must be a string, number or boolean")

func checkScalar(key settings.Key, v any) error {
	switch v.(type) {
	case string, float64, bool:
		return nil
	default:
		return fmt.Errorf("%s: %w", key, errNotScalar)
	}
}

func settingValue(key settings.Key, v any) SettingValue {
	return SettingValue{
		Key:        key.String(),
		StorageKey: key.StorageKey(),
		Type:       key.Kind().String(),
		Value:      v,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
