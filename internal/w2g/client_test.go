package w2g

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{APIURL: srv.URL + "/", RoomDomain: "w2g.tv", Timeout: time.Second * 5}, nil)
}

func TestCreateRoom(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rooms/create.json" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["w2g_api_key"] != "K" || body["share"] != "https://video/v1" {
			t.Errorf("unexpected body %v", body)
		}
		w.Write([]byte(`{"streamkey":"sk1","access_key":"abc123","room_id":42}`))
	})

	room, err := c.CreateRoom(context.Background(), "K", "https://video/v1")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if room.StreamKey != "sk1" || room.AccessKey != "abc123" || room.RoomID != "42" {
		t.Fatalf("unexpected room %+v", room)
	}
}

func TestCreateRoomAltFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"streamkey":"sk1","accesskey":"alt","roomid":"r9"}`))
	})
	room, err := c.CreateRoom(context.Background(), "K", "u")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if room.AccessKey != "alt" || room.RoomID != "r9" {
		t.Fatalf("alternate fields not picked up: %+v", room)
	}
}

func TestCreateRoomMissingStreamKey(t *testing.T) {
	for _, body := range []string{`{}`, ``, `not json`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		if _, err := c.CreateRoom(context.Background(), "K", "u"); !errors.Is(err, ErrMissingStreamKey) {
			t.Fatalf("body %q: expected ErrMissingStreamKey, got %v", body, err)
		}
	}
}

func TestCreateRoomStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	_, err := c.CreateRoom(context.Background(), "K", "u")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusUnauthorized || se.Body != "bad key\n" {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestAddItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms/sk1/playlists/current/playlist_items/sync_update" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body addItemsReq
		json.NewDecoder(r.Body).Decode(&body)
		if body.APIKey != "K" || len(body.Items) != 1 || body.Items[0].URL != "https://video/v1" || body.Items[0].Title != "T" {
			t.Errorf("unexpected body %+v", body)
		}
		// Empty success body.
		w.WriteHeader(http.StatusOK)
	})

	if err := c.AddItems(context.Background(), "K", "sk1", []Item{{URL: "https://video/v1", Title: "T"}}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}
}

func TestAddItemsForbidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	err := c.AddItems(context.Background(), "K", "sk1", nil)

	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusForbidden {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
}

func TestNetError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(Config{APIURL: srv.URL, Timeout: time.Second}, nil)
	_, err := c.CreateRoom(context.Background(), "K", "u")

	var ne *NetError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetError, got %v", err)
	}
}

func TestRoomURL(t *testing.T) {
	if u := RoomURL("w2g.tv", "abc123", "sk1"); u != "https://w2g.tv/en/room/?access_key=abc123" {
		t.Fatalf("access key URL = %s", u)
	}
	if u := RoomURL("w2g.tv", "", "xyz789"); u != "https://w2g.tv/rooms/xyz789" {
		t.Fatalf("room key URL = %s", u)
	}
}
