// Package dispatch pushes videos into the current watch-party room,
// creating a room when there is none and recovering from rooms that are no
// longer accessible.
package dispatch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/knadh/y2w/internal/notify"
	"github.com/knadh/y2w/internal/settings"
	"github.com/knadh/y2w/internal/w2g"
	"github.com/rs/zerolog"
)

// maxRecoveries is the number of times a denied append falls back to
// creating a new room within one call.
const maxRecoveries = 1

// Action is what a successful dispatch did.
type Action string

// Dispatch actions.
const (
	ActionCreatedRoom     Action = "createdRoom"
	ActionAddedToExisting Action = "addedToExisting"
)

// Provider is the subset of the provider API the dispatcher needs.
type Provider interface {
	CreateRoom(ctx context.Context, apiKey, shareURL string) (w2g.Room, error)
	AddItems(ctx context.Context, apiKey, roomKey string, items []w2g.Item) error
	RoomURL(accessKey, roomKey string) string
}

// Request is a single "send this video" action.
type Request struct {
	VideoURL   string `json:"videoUrl"`
	VideoTitle string `json:"videoTitle"`

	// TabID identifies the browser tab that triggered the request. Optional.
	TabID string `json:"tabId,omitempty"`
}

// Outcome is the result of one dispatch call.
type Outcome struct {
	Succeeded bool   `json:"succeeded"`
	Action    Action `json:"action,omitempty"`
	Message   string `json:"message"`
	RoomURL   string `json:"roomUrl,omitempty"`
	RoomKey   string `json:"roomKey,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`

	Kind   Kind   `json:"kind,omitempty"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Service is the room dispatch service.
type Service struct {
	prov  Provider
	set   *settings.Settings
	notif notify.Notifier
	sess  *notify.Session
	log   zerolog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// New returns a new dispatch Service.
func New(prov Provider, set *settings.Settings, n notify.Notifier, sess *notify.Session, l zerolog.Logger) *Service {
	return &Service{
		prov:  prov,
		set:   set,
		notif: n,
		sess:  sess,
		log:   l,
		now:   time.Now,
	}
}

// Dispatch sends the video in req to the current room, or to a new room.
// It never returns an error: failures are reported in the Outcome and as an
// error notice.
func (s *Service) Dispatch(ctx context.Context, req Request) Outcome {
	out, err := s.dispatch(ctx, req)
	if err != nil {
		o := Outcome{
			Message: err.Error(),
			Kind:    KindOf(err),
			Error:   err.Error(),
		}
		var e *Error
		if errors.As(err, &e) {
			o.Status = e.Status
		}

		s.log.Error().Err(err).Str("kind", string(o.Kind)).Str("video", req.VideoURL).Msg("dispatch failed")
		s.notif.Notify(notify.TypeError, o.Message, "")
		return o
	}

	s.log.Info().Str("action", string(out.Action)).Str("room", out.RoomKey).Str("video", req.VideoURL).Msg("dispatched video")
	s.notif.Notify(notify.TypeSuccess, out.Message, out.RoomURL)
	s.autoCopy(out.RoomURL, req.TabID)
	return out
}

// dispatch runs the create or append path. A 403 on append clears the
// stored room and loops once more, which then takes the create path.
func (s *Service) dispatch(ctx context.Context, req Request) (Outcome, error) {
	for attempt := 0; ; attempt++ {
		cfg, err := s.set.Load()
		if err != nil {
			return Outcome{}, &Error{Kind: KindStore, Err: err}
		}
		if cfg.APIKey == "" {
			return Outcome{}, &Error{Kind: KindMissingCredentials}
		}

		if cfg.CreateNewRoomAlways || cfg.CurrentRoomKey == "" {
			return s.createRoom(ctx, cfg, req)
		}

		out, err := s.appendItem(ctx, cfg, req)
		if KindOf(err) != KindAuthorizationDenied || attempt >= maxRecoveries {
			return out, err
		}

		s.log.Warn().Str("room", cfg.CurrentRoomKey).Msg("room access denied, creating a new room")
		s.notif.Notify(notify.TypeInfo, "Room access denied. Creating new room...", "")
		if err := s.set.ClearRoom(); err != nil {
			return Outcome{}, &Error{Kind: KindStore, Err: err}
		}
	}
}

// createRoom creates a new room seeded with the video and makes it current.
func (s *Service) createRoom(ctx context.Context, cfg settings.Snapshot, req Request) (Outcome, error) {
	room, err := s.prov.CreateRoom(ctx, cfg.APIKey, req.VideoURL)
	if err != nil {
		return Outcome{}, classify(err, KindRoomCreationFailed)
	}

	id := settings.RoomIdentity{
		RoomKey:    room.StreamKey,
		AccessKey:  room.AccessKey,
		RoomID:     room.RoomID,
		CreatedAt:  s.now(),
		Provenance: settings.ProvenanceCreated,
	}
	if err := s.set.SetRoom(id); err != nil {
		return Outcome{}, &Error{Kind: KindStore, Err: err}
	}

	return Outcome{
		Succeeded: true,
		Action:    ActionCreatedRoom,
		Message:   "Created new W2G room with video!",
		RoomURL:   s.prov.RoomURL(id.AccessKey, id.RoomKey),
		RoomKey:   id.RoomKey,
		AccessKey: id.AccessKey,
	}, nil
}

// appendItem adds the video to the current room's playlist.
func (s *Service) appendItem(ctx context.Context, cfg settings.Snapshot, req Request) (Outcome, error) {
	err := s.prov.AddItems(ctx, cfg.APIKey, cfg.CurrentRoomKey, []w2g.Item{{
		URL:   req.VideoURL,
		Title: req.VideoTitle,
	}})
	if err != nil {
		return Outcome{}, classify(err, KindPlaylistAppendFailed)
	}

	// Only trust the stored identity's access key if it describes this room.
	var accessKey string
	if cfg.Room != nil && cfg.Room.RoomKey == cfg.CurrentRoomKey {
		accessKey = cfg.Room.AccessKey
	}

	return Outcome{
		Succeeded: true,
		Action:    ActionAddedToExisting,
		Message:   "Video added to W2G playlist!",
		RoomURL:   s.prov.RoomURL(accessKey, cfg.CurrentRoomKey),
		RoomKey:   cfg.CurrentRoomKey,
		AccessKey: accessKey,
	}, nil
}

// autoCopy hands the room URL to the extension's clipboard writer and
// confirms it once per tab.
func (s *Service) autoCopy(roomURL, tabID string) {
	cfg, err := s.set.Load()
	if err != nil {
		s.log.Error().Err(err).Msg("error reading settings for auto-copy")
		return
	}
	if !cfg.AutoCopyEnabled || roomURL == "" {
		return
	}

	s.notif.Notify(notify.TypeClipboard, roomURL, roomURL)
	if s.sess.FirstCopyForTab(tabID) {
		s.notif.Notify(notify.TypeSuccess, "Auto-copy: Room URL copied to clipboard!", "")
	}
}

// classify maps a provider error to a dispatch Error. statusKind is used for
// non-2xx replies other than a 403 on append.
func classify(err error, statusKind Kind) error {
	var (
		se *w2g.StatusError
		ne *w2g.NetError
	)
	switch {
	case errors.As(err, &se):
		k := statusKind
		if statusKind == KindPlaylistAppendFailed && se.Status == http.StatusForbidden {
			k = KindAuthorizationDenied
		}
		return &Error{Kind: k, Status: se.Status, Body: se.Body, Err: err}

	case errors.Is(err, w2g.ErrMissingStreamKey):
		return &Error{Kind: KindMalformedResponse, Err: err}

	case errors.As(err, &ne), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindNetworkError, Err: err}
	}
	return &Error{Kind: KindNetworkError, Err: err}
}
