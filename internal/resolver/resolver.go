// Package resolver reconciles the room the daemon dispatches to with the
// rooms the user visits on the provider's site.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/y2w/internal/notify"
	"github.com/knadh/y2w/internal/settings"
	"github.com/rs/zerolog"
)

// Status is the result of a resolver operation.
type Status string

// Resolver statuses.
const (
	StatusSynced     Status = "synced"
	StatusUnchanged  Status = "unchanged"
	StatusAssociated Status = "associated"
	StatusUnresolved Status = "unresolved"
	StatusNotFound   Status = "notFound"
	StatusIgnored    Status = "ignored"
	StatusDisabled   Status = "disabled"
)

const msgUnresolved = "Cannot sync: Room not created through Y2W extension"

// Ref is a room reference found in a destination URL. Exactly one of the
// fields is set.
type Ref struct {
	StreamKey string `json:"streamkey,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
}

// Result describes what a resolver operation did.
type Result struct {
	Status    Status `json:"status"`
	RoomKey   string `json:"roomKey,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	Source    string `json:"source,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Resolver learns the current room from visited and observed pages.
type Resolver struct {
	domain    string
	set       *settings.Settings
	notif     notify.Notifier
	sess      *notify.Session
	detectors []Detector
	log       zerolog.Logger

	now func() time.Time
}

// New returns a Resolver for rooms on domain that runs the default
// detector chain.
func New(domain string, set *settings.Settings, n notify.Notifier, sess *notify.Session, l zerolog.Logger) *Resolver {
	return &Resolver{
		domain:    domain,
		set:       set,
		notif:     n,
		sess:      sess,
		detectors: Detectors,
		log:       l,
		now:       time.Now,
	}
}

// ParseRoomURL extracts a room reference from a provider URL. The ?r=
// stream key wins over a /rooms/{key} path, which wins over ?access_key=.
func ParseRoomURL(raw, domain string) (Ref, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, false
	}

	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)
	if host != domain && host != "www."+domain {
		return Ref{}, false
	}

	q := u.Query()
	if r := q.Get("r"); r != "" {
		return Ref{StreamKey: r}, true
	}

	if _, after, ok := strings.Cut(u.Path, "/rooms/"); ok {
		if key, _, _ := strings.Cut(after, "/"); key != "" {
			return Ref{StreamKey: key}, true
		}
	}

	if ak := q.Get("access_key"); ak != "" {
		return Ref{AccessKey: ak}, true
	}
	return Ref{}, false
}

// Visit syncs the current room from a visited provider URL.
func (r *Resolver) Visit(ctx context.Context, rawURL string) (Result, error) {
	cfg, err := r.set.Load()
	if err != nil {
		return Result{}, err
	}
	if !cfg.AutoSyncEnabled {
		return Result{Status: StatusDisabled, Message: "Auto-sync is disabled"}, nil
	}

	ref, ok := ParseRoomURL(rawURL, r.domain)
	if !ok {
		return Result{Status: StatusIgnored}, nil
	}

	newKey := ref.StreamKey
	if ref.AccessKey != "" {
		switch {
		case cfg.Room != nil && cfg.Room.AccessKey == ref.AccessKey:
			newKey = cfg.Room.RoomKey
			r.sess.ResetUnknownAccessKey()

		case strings.TrimSpace(cfg.CurrentRoomKey) != "":
			// Remember that the manually entered room is reachable by this access key.
			id := settings.RoomIdentity{
				RoomKey:    cfg.CurrentRoomKey,
				AccessKey:  ref.AccessKey,
				CreatedAt:  r.now(),
				Provenance: settings.ProvenanceManual,
			}
			if err := r.set.SetRoom(id); err != nil {
				return Result{}, err
			}
			r.sess.ResetUnknownAccessKey()
			r.log.Info().Str("room", id.RoomKey).Str("access_key", id.AccessKey).Msg("associated access key with room")
			return Result{Status: StatusAssociated, RoomKey: id.RoomKey, AccessKey: id.AccessKey}, nil

		default:
			if r.sess.FirstUnknownAccessKey(ref.AccessKey) {
				r.notif.Notify(notify.TypeInfo, msgUnresolved, "")
			}
			return Result{Status: StatusUnresolved, AccessKey: ref.AccessKey, Message: msgUnresolved}, nil
		}
	}

	if newKey == cfg.CurrentRoomKey {
		return Result{Status: StatusUnchanged, RoomKey: newKey, AccessKey: ref.AccessKey}, nil
	}

	if err := r.set.SetManualRoomKey(newKey); err != nil {
		return Result{}, err
	}
	return r.synced(newKey, ref.AccessKey, "url"), nil
}

// Observe records a stream key seen on the provider's page for accessKey.
// An observed key replaces whatever room was configured before.
func (r *Resolver) Observe(ctx context.Context, streamKey, accessKey, source string) (Result, error) {
	cfg, err := r.set.Load()
	if err != nil {
		return Result{}, err
	}
	if !cfg.AutoSyncEnabled {
		return Result{Status: StatusDisabled, Message: "Auto-sync is disabled"}, nil
	}

	streamKey = strings.TrimSpace(streamKey)
	if streamKey == "" {
		return Result{Status: StatusIgnored}, nil
	}
	if streamKey == cfg.CurrentRoomKey {
		return Result{Status: StatusUnchanged, RoomKey: streamKey, Message: "Already synced"}, nil
	}

	if err := r.set.SetRoom(settings.RoomIdentity{
		RoomKey:    streamKey,
		AccessKey:  accessKey,
		CreatedAt:  r.now(),
		Provenance: settings.ProvenanceObserved,
		Source:     source,
	}); err != nil {
		return Result{}, err
	}
	return r.synced(streamKey, accessKey, source), nil
}

// Inspect runs the detector chain over a page snapshot and observes the
// first stream key found. Only pages opened through an access key are
// inspected.
func (r *Resolver) Inspect(ctx context.Context, p Page) (Result, error) {
	cfg, err := r.set.Load()
	if err != nil {
		return Result{}, err
	}
	if !cfg.AutoSyncEnabled {
		return Result{Status: StatusDisabled, Message: "Auto-sync is disabled"}, nil
	}

	snap, err := newSnapshot(p)
	if err != nil {
		return Result{}, err
	}

	ak := snap.URL.Query().Get("access_key")
	if ak == "" {
		return Result{Status: StatusIgnored, Message: "No access_key in URL"}, nil
	}

	for _, d := range r.detectors {
		key, src, ok := d.Detect(snap)
		if !ok {
			continue
		}
		r.log.Debug().Str("source", src).Str("room", key).Msg("stream key detected")
		return r.Observe(ctx, key, ak, src)
	}
	return Result{Status: StatusNotFound, AccessKey: ak}, nil
}

func (r *Resolver) synced(key, accessKey, source string) Result {
	msg := fmt.Sprintf("Auto-sync: Room %s synced!", key)
	r.notif.Notify(notify.TypeSuccess, msg, "")
	r.sess.ResetUnknownAccessKey()
	r.log.Info().Str("room", key).Str("source", source).Msg("room synced")

	return Result{
		Status:    StatusSynced,
		RoomKey:   key,
		AccessKey: accessKey,
		Source:    source,
		Message:   msg,
	}
}
