package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Token: "123:abc", BaseURL: srv.URL, SendRate: 1000})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestGetUpdates(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/getUpdates" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["offset"] != float64(7) {
			t.Errorf("unexpected offset %v", payload["offset"])
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":8,"message":{"message_id":1,"chat":{"id":42},"from":{"id":99},"text":"hi"}},
			{"update_id":9,"message":{"message_id":2,"chat":{"id":42},"from":{"id":99},"text":"KEY-ABCD1234"}}
		]}`))
	}))

	updates, err := c.GetUpdates(context.Background(), 7, 30)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].Message.Text != "hi" || updates[0].Message.From.ID != 99 {
		t.Fatalf("unexpected update %+v", updates[0])
	}
	if got := NextOffset(updates, 7); got != 10 {
		t.Fatalf("NextOffset = %d, want 10", got)
	}
}

func TestSendMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":55,"chat":{"id":42},"text":"pong"}}`))
	}))

	msg, err := c.SendMessage(context.Background(), 42, "pong")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageID != 55 {
		t.Fatalf("unexpected message id %d", msg.MessageID)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))

	_, err := c.SendMessage(context.Background(), 42, "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected API description in error, got %v", err)
	}
}

func TestSendDocumentMultipart(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "42" {
			t.Errorf("unexpected chat_id %q", got)
		}
		file, header, err := r.FormFile("document")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "main.go" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":56,"chat":{"id":42}}}`))
	}))

	if err := c.SendDocument(context.Background(), 42, "main.go", []byte("package main")); err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
}

func TestGetFileAndDownload(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/bot123:abc/getFile":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"f1","file_path":"documents/app.log"}}`))
		case r.URL.Path == "/file/bot123:abc/documents/app.log":
			_, _ = w.Write([]byte("log line one\n"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	f, err := c.GetFile(context.Background(), "f1")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f.FilePath != "documents/app.log" {
		t.Fatalf("unexpected file path %q", f.FilePath)
	}
	data, err := c.DownloadFile(context.Background(), f.FilePath)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if string(data) != "log line one\n" {
		t.Fatalf("unexpected content %q", data)
	}
}
