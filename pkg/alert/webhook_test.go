package alert_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sebastian-ames3/traderadar/pkg/alert"
)

type captured struct {
	body   []byte
	header http.Header
}

func captureServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		got.body = body
		got.header = r.Header.Clone()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestWebhookSendSignsPayload(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	w := alert.NewWebhook(srv.URL, "s3cret")

	n := testNotification()
	if err := w.Send(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}

	if ct := got.header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if ua := got.header.Get("User-Agent"); ua != "traderadar/1.0" {
		t.Errorf("user agent = %q", ua)
	}

	var decoded alert.Notification
	if err := json.Unmarshal(got.body, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Type != n.Type || decoded.Severity != n.Severity || decoded.Message != n.Message {
		t.Errorf("payload = %+v", decoded)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(got.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if sig := got.header.Get("X-Signature-256"); sig != want {
		t.Errorf("signature = %q, want %q", sig, want)
	}
}

func TestWebhookSendWithoutSecret(t *testing.T) {
	srv, got := captureServer(t, http.StatusAccepted)
	w := alert.NewWebhook(srv.URL, "")

	if err := w.Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sig := got.header.Get("X-Signature-256"); sig != "" {
		t.Errorf("unexpected signature header %q", sig)
	}
}

func TestWebhookSendStatusError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusInternalServerError)
	w := alert.NewWebhook(srv.URL, "")

	err := w.Send(context.Background(), testNotification())
	if err == nil || !strings.Contains(err.Error(), "webhook status 500") {
		t.Fatalf("err = %v", err)
	}
}
