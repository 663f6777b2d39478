package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JovieInc/jovie/internal/event"
	"github.com/JovieInc/jovie/internal/provider"
	"github.com/JovieInc/jovie/internal/settingsio"
	"github.com/JovieInc/jovie/internal/webhook"
)

func TestHandleSettingsExport_RequiresPassphrase(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings/export", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.handleSettingsExport(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "passphrase is required") {
		t.Fatalf("body = %s, want passphrase error", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/settings/export", strings.NewReader(`{`))
	w = httptest.NewRecorder()
	r.handleSettingsExport(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleSettingsImport_RequiresPassphrase(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings/import", strings.NewReader(`{"envelope":{}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.handleSettingsImport(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "passphrase is required") {
		t.Fatalf("body = %s, want passphrase error", w.Body.String())
	}
}

func TestHandleSettingsImport_MissingFile(t *testing.T) {
	r := testRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("passphrase", "hunter2"); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.handleSettingsImport(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "missing file field") {
		t.Fatalf("body = %s, want missing file error", w.Body.String())
	}
}

func TestSettingsExportImportRoundTrip(t *testing.T) {
	src := testRouter(t)
	ctx := context.Background()

	// Seed state worth carrying: a settings row, platform credentials, and
	// a webhook subscription.
	if _, err := src.db.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES ('matching.auto_confirm_threshold', '0.82')`); err != nil {
		t.Fatal(err)
	}
	if err := src.providerSettings.SetCredentials(ctx, provider.KeySpotify, provider.Credentials{ClientID: "cid-123", ClientSecret: "sec-456"}); err != nil {
		t.Fatal(err)
	}
	hook := &webhook.Webhook{
		Name:    "notify",
		URL:     "https://example.com/hook",
		Secret:  "shh",
		Events:  []event.Type{event.MatchConfirmed},
		Enabled: true,
	}
	if err := src.webhookService.Create(ctx, hook); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings/export", strings.NewReader(`{"passphrase":"orange crate art"}`))
	w := httptest.NewRecorder()
	src.handleSettingsExport(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="jovie-settings-`) {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	var envelope settingsio.Envelope
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Version != "1.0" {
		t.Fatalf("envelope version = %q, want 1.0", envelope.Version)
	}
	if envelope.Salt == "" || envelope.Data == "" {
		t.Fatalf("envelope missing salt or data: %+v", envelope)
	}

	dst := testRouter(t)

	importWith := func(passphrase string) *httptest.ResponseRecorder {
		payload, err := json.Marshal(map[string]any{
			"passphrase": passphrase,
			"envelope":   envelope,
		})
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/settings/import", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		dst.handleSettingsImport(w, req)
		return w
	}

	if w := importWith("wrong horse"); w.Code != http.StatusBadRequest {
		t.Fatalf("wrong passphrase: status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	} else if !strings.Contains(w.Body.String(), "wrong passphrase") {
		t.Fatalf("wrong passphrase body = %s", w.Body.String())
	}

	w = importWith("orange crate art")
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var result settingsio.ImportResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Settings < 1 {
		t.Fatalf("imported settings = %d, want at least 1", result.Settings)
	}
	if result.Credentials != 1 {
		t.Fatalf("imported credentials = %d, want 1", result.Credentials)
	}
	if result.Webhooks != 1 {
		t.Fatalf("imported webhooks = %d, want 1", result.Webhooks)
	}

	// Credentials come back re-encrypted under the destination instance key.
	creds, err := dst.providerSettings.GetCredentials(ctx, provider.KeySpotify)
	if err != nil {
		t.Fatal(err)
	}
	if creds.ClientID != "cid-123" || creds.ClientSecret != "sec-456" {
		t.Fatalf("restored credentials = %+v", creds)
	}

	hooks, err := dst.webhookService.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(hooks) != 1 || hooks[0].Name != "notify" || hooks[0].URL != "https://example.com/hook" {
		t.Fatalf("restored webhooks = %+v", hooks)
	}
}
