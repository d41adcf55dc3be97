package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/prefsd/internal/settings"
	"github.com/kalambet/prefsd/internal/storage"
)

const testToken = "test-token-12345"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *settings.Store, *storage.Store) {
	t.Helper()
	backend, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	st := settings.Open(backend, settings.WithLogger(quietLogger()))
	handler := NewAppHandler(AppDeps{
		Settings: st,
		Token:    token,
		Raw:      backend,
	})
	return handler, st, backend
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (msg, errType string) {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Message, body.Error.Type
}

// failingBackend fails every write.
type failingBackend struct{}

func (failingBackend) Get(string) (string, bool, error) { return "", false, nil }
func (failingBackend) Set(string, string) error { return errors.New("disk full") }

func TestHealth_NoAuth(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAuth(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"missing", authReq(http.MethodGet, "/settings", "", ""), http.StatusUnauthorized},
		{"wrong", authReq(http.MethodGet, "/settings", "", "nope"), http.StatusUnauthorized},
		{"header", authReq(http.MethodGet, "/settings", "", testToken), http.StatusOK},
		{"query", authReq(http.MethodGet, "/settings?access_token="+testToken, "", ""), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, tt.req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if rr.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate header")
				}
				if _, typ := decodeError(t, rr); typ != "authentication_error" {
					t.Errorf("error type = %q", typ)
				}
			}
		})
	}
}

func TestAuth_EmptyServerTokenRejectsAll(t *testing.T) {
	h, _, _ := setupAppHandler(t, "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/settings", "", ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestGetSettings_Defaults(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/settings", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var snap settings.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if snap != settings.Defaults() {
		t.Errorf("snapshot = %+v, want defaults", snap)
	}
}

func TestGetSetting(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	for _, path := range []string{"/settings/editorSplitterBasis", "/settings/splitter.editor.basis"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, path, "", testToken))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rr.Code)
		}

		var v SettingValue
		if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if v.Key != "editorSplitterBasis" || v.StorageKey != "splitter.editor.basis" || v.Type != "int" {
			t.Errorf("%s: got %+v", path, v)
		}
		if v.Value != float64(350) {
			t.Errorf("%s: value = %v, want 350", path, v.Value)
		}
	}
}

func TestGetSetting_UnknownKey(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/settings/fontSize", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if _, typ := decodeError(t, rr); typ != "not_found" {
		t.Errorf("error type = %q", typ)
	}
}

func TestPutSetting(t *testing.T) {
	h, st, backend := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/settings/editorCol", `{"value":42}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	if got := st.EditorCol(); got != 42 {
		t.Errorf("EditorCol = %d, want 42", got)
	}
	raw, _, _ := backend.Get("editor.col")
	if raw != "42" {
		t.Errorf("stored = %q, want 42", raw)
	}
}

func TestPutSetting_UnparsableFallsBackToDefault(t *testing.T) {
	h, st, backend := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/settings/resultsSplitterBasis", `{"value":"abc"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var v SettingValue
	json.Unmarshal(rr.Body.Bytes(), &v)
	if v.Value != float64(settings.DefaultResultsSplitterBasis) {
		t.Errorf("response value = %v, want default", v.Value)
	}
	if got := st.ResultsSplitterBasis(); got != settings.DefaultResultsSplitterBasis {
		t.Errorf("ResultsSplitterBasis = %d", got)
	}
	if raw, _, _ := backend.Get("splitter.results.basis"); raw != "abc" {
		t.Errorf("stored = %q, want raw abc kept", raw)
	}
}

func TestPutSetting_Boolean(t *testing.T) {
	h, st, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/settings/isNotificationEnabled", `{"value":false}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if st.IsNotificationEnabled() {
		t.Error("IsNotificationEnabled = true, want false")
	}
}

func TestPutSetting_BadRequests(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown key", "/settings/fontSize", `{"value":1}`, http.StatusNotFound},
		{"malformed json", "/settings/editorCol", `{"value":`, http.StatusBadRequest},
		{"object value", "/settings/editorCol", `{"value":{"a":1}}`, http.StatusBadRequest},
		{"array value", "/settings/queryText", `{"value":["x"]}`, http.StatusBadRequest},
		{"null value", "/settings/queryText", `{"value":null}`, http.StatusBadRequest},
		{"missing value", "/settings/queryText", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodPut, tt.path, tt.body, testToken))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestPutSetting_StorageError(t *testing.T) {
	st := settings.Open(failingBackend{}, settings.WithLogger(quietLogger()))
	h := NewAppHandler(AppDeps{Settings: st, Token: testToken})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPut, "/settings/editorCol", `{"value":42}`, testToken))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	msg, typ := decodeError(t, rr)
	if typ != "api_error" || !strings.Contains(msg, "disk full") {
		t.Errorf("error = %q (%s)", msg, typ)
	}
	if st.EditorCol() != settings.DefaultEditorCol {
		t.Errorf("cache changed after failed write: %d", st.EditorCol())
	}
}

func TestPatchSettings(t *testing.T) {
	h, st, _ := setupAppHandler(t, testToken)

	body := `{"editorCol":7,"editorLine":3,"queryText":"select 1","exampleQueriesVisited":true}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/settings", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var snap settings.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if snap.EditorCol != 7 || snap.EditorLine != 3 || snap.QueryText != "select 1" || !snap.ExampleQueriesVisited {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap != st.Snapshot() {
		t.Error("response differs from store snapshot")
	}
}

func TestPatchSettings_UnknownKeyWritesNothing(t *testing.T) {
	h, st, backend := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/settings", `{"editorCol":7,"fontSize":12}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if st.EditorCol() != settings.DefaultEditorCol {
		t.Errorf("EditorCol = %d, want unchanged", st.EditorCol())
	}
	if _, ok, _ := backend.Get("editor.col"); ok {
		t.Error("editor.col written despite rejected request")
	}
}

func TestGetRaw(t *testing.T) {
	h, st, _ := setupAppHandler(t, testToken)

	if err := st.Update(settings.KeyEditorSplitterBasis, "abc"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/settings/raw", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var raw map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if raw["splitter.editor.basis"] != "abc" {
		t.Errorf("raw = %v", raw)
	}
}

func TestGetRaw_NotServedWithoutLister(t *testing.T) {
	st := settings.Open(storage.NewMemory(), settings.WithLogger(quietLogger()))
	h := NewAppHandler(AppDeps{Settings: st, Token: testToken})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/settings/raw", "", testToken))
	// Falls through to /settings/{key} with an unknown key.
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
