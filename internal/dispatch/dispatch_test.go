package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/knadh/y2w/internal/notify"
	"github.com/knadh/y2w/internal/settings"
	"github.com/knadh/y2w/internal/w2g"
	"github.com/knadh/y2w/store/mem"
	"github.com/rs/zerolog"
)

type call struct {
	path string
	body map[string]interface{}
}

// fakeProvider records calls and answers with canned replies per endpoint.
type fakeProvider struct {
	mu    sync.Mutex
	calls []call

	createStatus int
	createBody   string
	addStatus    int
	addBody      string

	// Inspected on every call to check store state mid-flight.
	onCall func(path string)
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, call{path: r.URL.Path, body: body})
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(r.URL.Path)
	}

	if strings.HasSuffix(r.URL.Path, "/rooms/create.json") {
		w.WriteHeader(f.createStatus)
		w.Write([]byte(f.createBody))
		return
	}
	w.WriteHeader(f.addStatus)
	w.Write([]byte(f.addBody))
}

func (f *fakeProvider) getCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type recorder struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recorder) Notify(typ, message, roomURL string) {
	r.mu.Lock()
	r.notices = append(r.notices, notify.Notice{Type: typ, Message: message, RoomURL: roomURL})
	r.mu.Unlock()
}

func (r *recorder) count(typ, msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.notices {
		if v.Type == typ && (msg == "" || v.Message == msg) {
			n++
		}
	}
	return n
}

type fixture struct {
	prov  *fakeProvider
	set   *settings.Settings
	notes *recorder
	svc   *Service
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := mem.New(mem.Config{})
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}

	f := &fixture{
		prov: &fakeProvider{
			createStatus: http.StatusOK,
			createBody:   `{"streamkey":"sk1"}`,
			addStatus:    http.StatusOK,
		},
		set:   settings.New(st),
		notes: &recorder{},
	}
	f.srv = httptest.NewServer(f.prov)
	t.Cleanup(f.srv.Close)

	cl := w2g.New(w2g.Config{APIURL: f.srv.URL, RoomDomain: "w2g.tv", Timeout: time.Second * 5}, nil)
	f.svc = New(cl, f.set, f.notes, notify.NewSession(), zerolog.Nop())
	return f
}

func (f *fixture) send(t *testing.T, tab string) Outcome {
	t.Helper()
	return f.svc.Dispatch(context.Background(), Request{
		VideoURL:   "https://www.youtube.com/watch?v=abc",
		VideoTitle: "A video",
		TabID:      tab,
	})
}

func TestMissingKey(t *testing.T) {
	f := newFixture(t)

	out := f.send(t, "1")
	if out.Succeeded || out.Kind != KindMissingCredentials {
		t.Fatalf("expected MissingCredentials, got %+v", out)
	}
	if out.Message != "Please configure your W2G API key." {
		t.Fatalf("unexpected message: %s", out.Message)
	}
	if n := len(f.prov.getCalls()); n != 0 {
		t.Fatalf("expected no provider calls, got %d", n)
	}
	if f.notes.count(notify.TypeError, "") != 1 {
		t.Fatal("expected an error notice")
	}
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")

	out := f.send(t, "1")
	if !out.Succeeded || out.Action != ActionCreatedRoom {
		t.Fatalf("expected createdRoom, got %+v", out)
	}
	if out.RoomURL != "https://w2g.tv/rooms/sk1" {
		t.Fatalf("unexpected room URL: %s", out.RoomURL)
	}

	calls := f.prov.getCalls()
	if len(calls) != 1 || calls[0].path != "/rooms/create.json" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if calls[0].body["w2g_api_key"] != "K" || calls[0].body["share"] != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("unexpected create body: %+v", calls[0].body)
	}

	cfg, _ := f.set.Load()
	if cfg.CurrentRoomKey != "sk1" || cfg.Room == nil || cfg.Room.Provenance != settings.ProvenanceCreated {
		t.Fatalf("room not persisted: %+v", cfg)
	}
	if f.notes.count(notify.TypeSuccess, "Created new W2G room with video!") != 1 {
		t.Fatal("expected a success notice")
	}
}

func TestCreateRoomAccessKey(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.prov.createBody = `{"streamkey":"sk1","access_key":"ak9"}`

	out := f.send(t, "")
	if out.RoomURL != "https://w2g.tv/en/room/?access_key=ak9" {
		t.Fatalf("unexpected room URL: %s", out.RoomURL)
	}

	// The next send appends and keeps using the access key URL.
	out = f.send(t, "")
	if out.Action != ActionAddedToExisting || out.RoomURL != "https://w2g.tv/en/room/?access_key=ak9" {
		t.Fatalf("unexpected append outcome: %+v", out)
	}
}

func TestAppend(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.set.SetManualRoomKey("room42")

	out := f.send(t, "1")
	if !out.Succeeded || out.Action != ActionAddedToExisting {
		t.Fatalf("expected addedToExisting, got %+v", out)
	}
	if out.RoomURL != "https://w2g.tv/rooms/room42" {
		t.Fatalf("unexpected room URL: %s", out.RoomURL)
	}

	calls := f.prov.getCalls()
	if len(calls) != 1 || calls[0].path != "/rooms/room42/playlists/current/playlist_items/sync_update" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	items, _ := calls[0].body["add_items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("expected one item, got %+v", calls[0].body)
	}
	it := items[0].(map[string]interface{})
	if it["url"] != "https://www.youtube.com/watch?v=abc" || it["title"] != "A video" {
		t.Fatalf("unexpected item: %+v", it)
	}
}

func TestAppendDeniedRecovers(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.set.SetManualRoomKey("old")
	f.prov.addStatus = http.StatusForbidden
	f.prov.addBody = "forbidden"

	// The stored room must be gone by the time the create call arrives.
	var roomAtCreate string
	f.prov.onCall = func(path string) {
		if path == "/rooms/create.json" {
			cfg, _ := f.set.Load()
			roomAtCreate = cfg.CurrentRoomKey
		}
	}

	out := f.send(t, "1")
	if !out.Succeeded || out.Action != ActionCreatedRoom || out.RoomKey != "sk1" {
		t.Fatalf("expected recovery into a new room, got %+v", out)
	}
	if roomAtCreate != "" {
		t.Fatalf("room not cleared before create: %q", roomAtCreate)
	}

	calls := f.prov.getCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[1].body["share"] != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("create used a different video: %+v", calls[1].body)
	}
	if f.notes.count(notify.TypeInfo, "Room access denied. Creating new room...") != 1 {
		t.Fatal("expected a recovery notice")
	}
}

func TestRecoveryIsBounded(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.set.SetManualRoomKey("old")
	f.prov.addStatus = http.StatusForbidden
	f.prov.createStatus = http.StatusForbidden
	f.prov.createBody = "nope"

	out := f.send(t, "1")
	if out.Succeeded || out.Kind != KindRoomCreationFailed || out.Status != http.StatusForbidden {
		t.Fatalf("expected RoomCreationFailed, got %+v", out)
	}
	if out.Message != "Failed to create room: 403 - nope" {
		t.Fatalf("unexpected message: %s", out.Message)
	}
	if n := len(f.prov.getCalls()); n != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", n)
	}
}

func TestCreateDeniedNoRecovery(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.prov.createStatus = http.StatusForbidden
	f.prov.createBody = "denied"

	out := f.send(t, "1")
	if out.Kind != KindRoomCreationFailed {
		t.Fatalf("expected RoomCreationFailed, got %+v", out)
	}
	if n := len(f.prov.getCalls()); n != 1 {
		t.Fatalf("expected a single call, got %d", n)
	}
	if f.notes.count(notify.TypeInfo, "") != 0 {
		t.Fatal("no recovery notice expected")
	}
}

func TestAppendFailure(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.set.SetManualRoomKey("room42")
	f.prov.addStatus = http.StatusInternalServerError
	f.prov.addBody = "boom"

	out := f.send(t, "1")
	if out.Kind != KindPlaylistAppendFailed || out.Message != "W2G API error: 500 - boom" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	// A failed append leaves the room in place.
	cfg, _ := f.set.Load()
	if cfg.CurrentRoomKey != "room42" {
		t.Fatalf("room changed: %s", cfg.CurrentRoomKey)
	}
}

func TestCreateNewRoomAlways(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.set.SetManualRoomKey("room42")
	f.set.SetCreateNewRoomAlways(true)

	out := f.send(t, "1")
	if out.Action != ActionCreatedRoom {
		t.Fatalf("expected createdRoom, got %+v", out)
	}
	calls := f.prov.getCalls()
	if len(calls) != 1 || calls[0].path != "/rooms/create.json" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestMalformedResponse(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.prov.createBody = `{}`

	out := f.send(t, "1")
	if out.Kind != KindMalformedResponse {
		t.Fatalf("expected MalformedResponse, got %+v", out)
	}
	cfg, _ := f.set.Load()
	if cfg.CurrentRoomKey != "" {
		t.Fatalf("no room should be stored, got %s", cfg.CurrentRoomKey)
	}
}

func TestNetworkError(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")
	f.srv.Close()

	out := f.send(t, "1")
	if out.Kind != KindNetworkError {
		t.Fatalf("expected NetworkError, got %+v", out)
	}
}

func TestAutoCopyOncePerTab(t *testing.T) {
	f := newFixture(t)
	f.set.SetAPIKey("K")

	f.send(t, "7")
	f.send(t, "7")

	if n := f.notes.count(notify.TypeClipboard, "https://w2g.tv/rooms/sk1"); n != 2 {
		t.Fatalf("expected 2 clipboard notices, got %d", n)
	}
	if n := f.notes.count(notify.TypeSuccess, "Auto-copy: Room URL copied to clipboard!"); n != 1 {
		t.Fatalf("expected 1 auto-copy confirmation, got %d", n)
	}

	f.set.SetAutoCopy(false)
	f.send(t, "8")
	if n := f.notes.count(notify.TypeClipboard, ""); n != 2 {
		t.Fatalf("auto-copy disabled but got %d clipboard notices", n)
	}
}
