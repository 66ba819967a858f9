package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/knadh/y2w/internal/dispatch"
	"github.com/knadh/y2w/internal/resolver"
	"github.com/knadh/y2w/internal/settings"
	"github.com/knadh/y2w/internal/video"
	"github.com/knadh/y2w/internal/w2g"
	"github.com/rs/zerolog"
)

// Max size of a JSON request body. Page snapshots can be large.
const maxBodySize = 4 << 20

type ctxKey string

const ctxReq ctxKey = "ctx"

// reqCtx is the context injected into every request.
type reqCtx struct {
	app *App
	log zerolog.Logger
}

// jsonResp is the envelope for all JSON API responses.
type jsonResp struct {
	Error *string     `json:"error"`
	Data  interface{} `json:"data"`
}

type reqValidate struct {
	APIKey string `json:"apiKey"`
}

// reqSettings is a partial settings update. Nil fields are left untouched.
type reqSettings struct {
	APIKey              *string `json:"apiKey"`
	RoomKey             *string `json:"roomKey"`
	CreateNewRoomAlways *bool   `json:"createNewRoomAlways"`
	AutoSync            *bool   `json:"autoSync"`
	AutoCopy            *bool   `json:"autoCopy"`
}

type reqVisit struct {
	URL string `json:"url"`
}

type reqObserved struct {
	StreamKey string `json:"streamkey"`
	AccessKey string `json:"accessKey"`
	Source    string `json:"source"`
}

type settingsResp struct {
	APIKey              string     `json:"apiKey"`
	HasAPIKey           bool       `json:"hasApiKey"`
	RoomKey             string     `json:"roomKey"`
	CreateNewRoomAlways bool       `json:"createNewRoomAlways"`
	AutoSync            bool       `json:"autoSync"`
	AutoCopy            bool       `json:"autoCopy"`
	APIKeyValid         *bool      `json:"apiKeyValid,omitempty"`
	APIKeyLastValidated *time.Time `json:"apiKeyLastValidated,omitempty"`
}

type roomResp struct {
	RoomKey string                 `json:"roomKey"`
	RoomURL string                 `json:"roomUrl,omitempty"`
	Room    *settings.RoomIdentity `json:"room,omitempty"`
}

// newRouter registers the HTTP routes of the local API.
func newRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(app.log.With().Str("component", "http").Logger()))
	r.Use(allowExtension(app))

	r.Post("/api/send", wrap(handleSend, app))
	r.Post("/api/validate", wrap(handleValidate, app))
	r.Get("/api/validate", wrap(handleCheckValid, app))
	r.Get("/api/settings", wrap(handleGetSettings, app))
	r.Put("/api/settings", wrap(handleUpdateSettings, app))
	r.Get("/api/room", wrap(handleGetRoom, app))
	r.Delete("/api/room", wrap(handleClearRoom, app))
	r.Post("/api/rooms/visit", wrap(handleVisit, app))
	r.Post("/api/rooms/observed", wrap(handleObserved, app))
	r.Post("/api/rooms/inspect", wrap(handleInspect, app))
	r.Delete("/api/tabs/{tabID}", wrap(handleForgetTab, app))
	r.Get("/api/ws", wrap(handleWS, app))

	return r
}

// handleSend dispatches a video to the current room.
func handleSend(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value(ctxReq).(*reqCtx).app

	var req dispatch.Request
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}

	u, err := video.NormalizeURL(req.VideoURL)
	if err != nil {
		respondJSON(w, nil, err, http.StatusBadRequest)
		return
	}
	req.VideoURL = u
	req.VideoTitle = video.CleanTitle(req.VideoTitle)

	out := app.disp.Dispatch(r.Context(), req)
	if !out.Succeeded {
		respondJSON(w, out, errors.New(out.Message), outcomeStatus(out.Kind))
		return
	}
	respondJSON(w, out, nil, http.StatusOK)
}

// handleValidate validates the API key in the request.
func handleValidate(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value(ctxReq).(*reqCtx).app

	var req reqValidate
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}
	respondJSON(w, app.val.Validate(r.Context(), strings.TrimSpace(req.APIKey)), nil, http.StatusOK)
}

// handleCheckValid validates the stored API key.
func handleCheckValid(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value(ctxReq).(*reqCtx).app
	respondJSON(w, app.val.Check(r.Context()), nil, http.StatusOK)
}

// handleGetSettings returns the settings with the API key masked.
func handleGetSettings(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxReq).(*reqCtx)
		app = ctx.app
	)

	cfg, err := app.set.Load()
	if err != nil {
		ctx.log.Error().Err(err).Msg("error loading settings")
		respondJSON(w, nil, errors.New("error loading settings"), http.StatusInternalServerError)
		return
	}

	out := settingsResp{
		APIKey:              maskKey(cfg.APIKey),
		HasAPIKey:           cfg.APIKey != "",
		RoomKey:             cfg.CurrentRoomKey,
		CreateNewRoomAlways: cfg.CreateNewRoomAlways,
		AutoSync:            cfg.AutoSyncEnabled,
		AutoCopy:            cfg.AutoCopyEnabled,
	}
	if v := cfg.Validation; v != nil {
		out.APIKeyValid = &v.Valid
		out.APIKeyLastValidated = &v.ValidatedAt
	}
	respondJSON(w, out, nil, http.StatusOK)
}

// handleUpdateSettings applies a settings form. A non-empty API key is only
// saved after it validates.
func handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxReq).(*reqCtx)
		app = ctx.app
	)

	var req reqSettings
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}

	msg, status, err := applySettings(r.Context(), app, req)
	if err != nil {
		ctx.log.Warn().Err(err).Msg("settings not saved")
		respondJSON(w, nil, err, status)
		return
	}
	respondJSON(w, msg, nil, http.StatusOK)
}

// applySettings saves req and returns a status message, or an error and the
// HTTP status to report it with.
func applySettings(ctx context.Context, app *App, req reqSettings) (string, int, error) {
	// Toggles are saved immediately, independent of the API key.
	toggles := []struct {
		v   *bool
		set func(bool) error
	}{
		{req.CreateNewRoomAlways, app.set.SetCreateNewRoomAlways},
		{req.AutoSync, app.set.SetAutoSync},
		{req.AutoCopy, app.set.SetAutoCopy},
	}
	for _, t := range toggles {
		if t.v == nil {
			continue
		}
		if err := t.set(*t.v); err != nil {
			return "", http.StatusInternalServerError, errors.New("error saving settings")
		}
	}

	if req.APIKey == nil {
		if req.RoomKey != nil {
			if err := saveRoomKey(app.set, *req.RoomKey); err != nil {
				return "", http.StatusInternalServerError, errors.New("error saving settings")
			}
		}
		return "Settings saved successfully!", http.StatusOK, nil
	}

	key := strings.TrimSpace(*req.APIKey)
	if key == "" {
		if err := app.set.SetAPIKey(""); err != nil {
			return "", http.StatusInternalServerError, errors.New("error saving settings")
		}
		if err := app.set.ClearValidation(); err != nil {
			return "", http.StatusInternalServerError, errors.New("error saving settings")
		}
		if req.RoomKey != nil {
			if err := saveRoomKey(app.set, *req.RoomKey); err != nil {
				return "", http.StatusInternalServerError, errors.New("error saving settings")
			}
		}
		return "Settings cleared successfully!", http.StatusOK, nil
	}

	res := app.val.Validate(ctx, key)
	if !res.Success {
		if res.Error == "" {
			res.Error = "Failed to validate API key"
		}
		return "", http.StatusBadGateway, errors.New(res.Error)
	}
	if !res.Valid {
		return "", http.StatusBadRequest, errors.New("Invalid API key. Please check your API key and try again.")
	}

	if err := app.set.SetAPIKey(key); err != nil {
		return "", http.StatusInternalServerError, errors.New("error saving settings")
	}
	if req.RoomKey != nil {
		if err := saveRoomKey(app.set, *req.RoomKey); err != nil {
			return "", http.StatusInternalServerError, errors.New("error saving settings")
		}
	}
	return "Settings saved successfully! API key validated.", http.StatusOK, nil
}

// handleGetRoom returns the current room and its shareable URL.
func handleGetRoom(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxReq).(*reqCtx)
		app = ctx.app
	)

	out, err := currentRoom(app)
	if err != nil {
		ctx.log.Error().Err(err).Msg("error loading settings")
		respondJSON(w, nil, errors.New("error loading settings"), http.StatusInternalServerError)
		return
	}
	respondJSON(w, out, nil, http.StatusOK)
}

// handleClearRoom forgets the current room.
func handleClearRoom(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxReq).(*reqCtx)
		app = ctx.app
	)

	if err := app.set.ClearRoom(); err != nil {
		ctx.log.Error().Err(err).Msg("error clearing room")
		respondJSON(w, nil, errors.New("error clearing room"), http.StatusInternalServerError)
		return
	}
	respondJSON(w, true, nil, http.StatusOK)
}

// handleVisit syncs the room from a visited provider URL.
func handleVisit(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxReq).(*reqCtx)
		app = ctx.app
	)

	var req reqVisit
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}

	res, err := app.res.Visit(r.Context(), req.URL)
	respondResolver(w, ctx, res, err)
}

// handleObserved records a stream key found on a provider page.
func handleObserved(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxReq).(*reqCtx)
		app = ctx.app
	)

	var req reqObserved
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}
	if req.StreamKey == "" {
		respondJSON(w, nil, errors.New("streamkey is required"), http.StatusBadRequest)
		return
	}

	res, err := app.res.Observe(r.Context(), req.StreamKey, req.AccessKey, req.Source)
	respondResolver(w, ctx, res, err)
}

// handleInspect runs the stream key detectors over a page snapshot.
func handleInspect(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxReq).(*reqCtx)
		app = ctx.app
	)

	var req resolver.Page
	if err := readJSONReq(r, &req); err != nil {
		respondJSON(w, nil, errors.New("error parsing JSON request"), http.StatusBadRequest)
		return
	}

	res, err := app.res.Inspect(r.Context(), req)
	respondResolver(w, ctx, res, err)
}

// handleForgetTab drops the notice state of a closed tab.
func handleForgetTab(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value(ctxReq).(*reqCtx).app
	app.sess.ForgetTab(chi.URLParam(r, "tabID"))
	respondJSON(w, true, nil, http.StatusOK)
}

// handleWS streams notices to the extension.
func handleWS(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value(ctxReq).(*reqCtx)
		app = ctx.app
	)

	if app.hub == nil {
		respondJSON(w, nil, errors.New("notices are not available"), http.StatusServiceUnavailable)
		return
	}

	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		return app.originAllowed(r.Header.Get("Origin"))
	}}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		ctx.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	app.hub.Subscribe(ws)
}

func respondResolver(w http.ResponseWriter, ctx *reqCtx, res resolver.Result, err error) {
	if err != nil {
		ctx.log.Error().Err(err).Msg("error syncing room")
		respondJSON(w, nil, errors.New("error syncing room"), http.StatusInternalServerError)
		return
	}
	respondJSON(w, res, nil, http.StatusOK)
}

// respondJSON responds to an HTTP request with a generic payload or an error.
func respondJSON(w http.ResponseWriter, data interface{}, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	out := jsonResp{Data: data}
	if err != nil {
		e := err.Error()
		out.Error = &e
	}
	b, err := json.Marshal(out)
	if err != nil {
		lo.Error().Err(err).Msg("error marshalling JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write(b)
}

// wrap attaches the app context to handlers.
func wrap(next http.HandlerFunc, app *App) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &reqCtx{
			app: app,
			log: *zerolog.Ctx(r.Context()),
		}
		if req.log.GetLevel() == zerolog.Disabled {
			req.log = app.log
		}

		ctx := context.WithValue(r.Context(), ctxReq, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// allowExtension lets the browser extension call the API from its own
// origin. Requests from any other browser origin are refused.
func allowExtension(app *App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !app.originAllowed(origin) {
				zerolog.Ctx(r.Context()).Warn().Str("origin", origin).Msg("refused request from origin")
				respondJSON(w, nil, errors.New("origin not allowed"), http.StatusForbidden)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			if origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+headerRequestID)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed reports whether a browser origin may use the API. An entry
// ending in * matches by prefix. Requests without an Origin header come from
// non-browser clients such as curl.
func (a *App) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range a.origins {
		if p, ok := strings.CutSuffix(o, "*"); ok {
			if strings.HasPrefix(origin, p) {
				return true
			}
			continue
		}
		if o == origin {
			return true
		}
	}
	return false
}

// readJSONReq reads the JSON body from a request and unmarshals it to the given target.
func readJSONReq(r *http.Request, o interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, o)
}

// outcomeStatus maps a failed dispatch to an HTTP status.
func outcomeStatus(k dispatch.Kind) int {
	switch k {
	case dispatch.KindMissingCredentials:
		return http.StatusBadRequest
	case dispatch.KindStore:
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

// saveRoomKey stores a room key entered by hand. An empty key clears the room.
func saveRoomKey(set *settings.Settings, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return set.ClearRoom()
	}
	return set.SetManualRoomKey(key)
}

// currentRoom returns the current room and its shareable URL.
func currentRoom(app *App) (roomResp, error) {
	cfg, err := app.set.Load()
	if err != nil {
		return roomResp{}, err
	}

	out := roomResp{RoomKey: cfg.CurrentRoomKey}
	if cfg.CurrentRoomKey == "" {
		return out, nil
	}

	var ak string
	if cfg.Room != nil && cfg.Room.RoomKey == cfg.CurrentRoomKey {
		out.Room = cfg.Room
		ak = cfg.Room.AccessKey
	}
	out.RoomURL = w2g.RoomURL(app.roomDomain, ak, cfg.CurrentRoomKey)
	return out, nil
}

// maskKey hides all but the last four characters of an API key.
func maskKey(k string) string {
	if k == "" {
		return ""
	}
	if len(k) <= 4 {
		return strings.Repeat("*", len(k))
	}
	return strings.Repeat("*", len(k)-4) + k[len(k)-4:]
}
