package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Token: "test-token"}, zerolog.Nop())
}

func TestListRooms(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/rooms/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(`{"rooms":[{"id":1,"title":"general","kind":"group","created_at":"2025-03-01T09:00:00Z"}]}`))
	})

	rooms, err := c.ListRooms(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].ID != 1 || rooms[0].Title != "general" {
		t.Fatalf("unexpected rooms %+v", rooms)
	}
}

func TestCreateDirectRoomConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"conflict","message":"room exists"}`))
	})

	_, err := c.CreateDirectRoom(context.Background(), 5)
	if !errors.Is(err, ErrRoomAlreadyExists) {
		t.Fatalf("expected ErrRoomAlreadyExists, got %v", err)
	}
}

func TestErrorBodyDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"bad_request","message":"content required"}`))
	})

	_, err := c.SendTextMessage(context.Background(), 1, "", "")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "bad_request" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestListMessagesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("page_size") != "30" || q.Get("ordering") != "-created_at" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"messages":[]}`))
	})

	if _, err := c.ListMessages(context.Background(), 42, 2, 30); err != nil {
		t.Fatal(err)
	}
}

func TestUploadAttachment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("expected multipart request, got %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		w.Write([]byte(`{"id":17,"url":"https://cdn.example.com/a.png"}`))
	})

	result, err := c.UploadAttachment(context.Background(), "a.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if result.ID != 17 || result.URL != "https://cdn.example.com/a.png" {
		t.Fatalf("unexpected result %+v", result)
	}
}
