// Package settings is a typed view over the persisted key-value settings
// store shared by the dispatcher, the validator and the resolver.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/knadh/y2w/store"
)

// Setting keys as persisted in the store.
const (
	KeyAPIKey              = "apiKey"
	KeyCurrentRoomKey      = "currentRoomKey"
	KeyRoomIdentity        = "roomIdentity"
	KeyCreateNewRoomAlways = "createNewRoomAlways"
	KeyAutoSyncEnabled     = "autoSyncEnabled"
	KeyAutoCopyEnabled     = "autoCopyEnabled"
	KeyAPIKeyValid         = "apiKeyValid"
	KeyAPIKeyLastValidated = "apiKeyLastValidated"
	KeyAPIKeyFingerprint   = "apiKeyFingerprint"
)

// Provenance records how a RoomIdentity was learned.
type Provenance string

// Provenance values.
const (
	ProvenanceCreated  Provenance = "created"
	ProvenanceManual   Provenance = "manual-association"
	ProvenanceObserved Provenance = "observed"
)

// RoomIdentity is the current destination room.
type RoomIdentity struct {
	RoomKey    string     `json:"roomKey"`
	AccessKey  string     `json:"accessKey,omitempty"`
	RoomID     string     `json:"roomId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	Provenance Provenance `json:"provenance"`

	// Source is the detector that observed the room, if any.
	Source string `json:"source,omitempty"`
}

// Validation is the cached result of an API key check.
type Validation struct {
	Valid       bool
	ValidatedAt time.Time
	Fingerprint string
}

// Snapshot is one read of all settings.
type Snapshot struct {
	APIKey              string
	CurrentRoomKey      string
	Room                *RoomIdentity
	CreateNewRoomAlways bool
	AutoSyncEnabled     bool
	AutoCopyEnabled     bool

	// Validation is nil when no validation has been cached.
	Validation *Validation
}

// Settings reads and writes typed settings on a store.
type Settings struct {
	st store.Store
}

// New returns a Settings instance backed by st.
func New(st store.Store) *Settings {
	return &Settings{st: st}
}

// Load reads all settings. Missing keys take their defaults.
func (s *Settings) Load() (Snapshot, error) {
	out := Snapshot{
		AutoSyncEnabled: true,
		AutoCopyEnabled: true,
	}

	if err := s.get(KeyAPIKey, &out.APIKey); err != nil {
		return out, err
	}
	if err := s.get(KeyCurrentRoomKey, &out.CurrentRoomKey); err != nil {
		return out, err
	}
	if err := s.get(KeyCreateNewRoomAlways, &out.CreateNewRoomAlways); err != nil {
		return out, err
	}
	if err := s.get(KeyAutoSyncEnabled, &out.AutoSyncEnabled); err != nil {
		return out, err
	}
	if err := s.get(KeyAutoCopyEnabled, &out.AutoCopyEnabled); err != nil {
		return out, err
	}

	var room RoomIdentity
	ok, err := s.lookup(KeyRoomIdentity, &room)
	if err != nil {
		return out, err
	}
	if ok && room.RoomKey != "" {
		out.Room = &room
	}

	var (
		v     Validation
		valid bool
		at    time.Time
	)
	ok, err = s.lookup(KeyAPIKeyValid, &valid)
	if err != nil {
		return out, err
	}
	if ok {
		if err := s.get(KeyAPIKeyLastValidated, &at); err != nil {
			return out, err
		}
		if err := s.get(KeyAPIKeyFingerprint, &v.Fingerprint); err != nil {
			return out, err
		}
		v.Valid = valid
		v.ValidatedAt = at
		out.Validation = &v
	}

	return out, nil
}

// SetAPIKey stores the provider API key. A cached validation stays bound to
// the fingerprint of the key it was made for.
func (s *Settings) SetAPIKey(key string) error {
	return s.set(KeyAPIKey, key)
}

// SetCreateNewRoomAlways toggles always creating a fresh room.
func (s *Settings) SetCreateNewRoomAlways(on bool) error {
	return s.set(KeyCreateNewRoomAlways, on)
}

// SetAutoSync toggles passive room detection.
func (s *Settings) SetAutoSync(on bool) error {
	return s.set(KeyAutoSyncEnabled, on)
}

// SetAutoCopy toggles copying the room URL after a dispatch.
func (s *Settings) SetAutoCopy(on bool) error {
	return s.set(KeyAutoCopyEnabled, on)
}

// SetRoom makes r the current room. The bare room key is written alongside
// the identity for older readers.
func (s *Settings) SetRoom(r RoomIdentity) error {
	if r.RoomKey == "" {
		return errors.New("room key is empty")
	}
	if err := s.set(KeyRoomIdentity, r); err != nil {
		return err
	}
	return s.set(KeyCurrentRoomKey, r.RoomKey)
}

// SetManualRoomKey stores a room key entered by the user. A stored identity
// for a different room is dropped.
func (s *Settings) SetManualRoomKey(key string) error {
	var room RoomIdentity
	ok, err := s.lookup(KeyRoomIdentity, &room)
	if err != nil {
		return err
	}
	if ok && room.RoomKey != key {
		if err := s.st.Delete(KeyRoomIdentity); err != nil {
			return err
		}
	}
	return s.set(KeyCurrentRoomKey, key)
}

// ClearRoom forgets the current room.
func (s *Settings) ClearRoom() error {
	if err := s.set(KeyCurrentRoomKey, ""); err != nil {
		return err
	}
	return s.st.Delete(KeyRoomIdentity)
}

// SetValidation caches an API key validation result.
func (s *Settings) SetValidation(v Validation) error {
	if err := s.set(KeyAPIKeyValid, v.Valid); err != nil {
		return err
	}
	if err := s.set(KeyAPIKeyLastValidated, v.ValidatedAt.UTC()); err != nil {
		return err
	}
	return s.set(KeyAPIKeyFingerprint, v.Fingerprint)
}

// ClearValidation drops the cached validation.
func (s *Settings) ClearValidation() error {
	for _, k := range []string{KeyAPIKeyValid, KeyAPIKeyLastValidated, KeyAPIKeyFingerprint} {
		if err := s.st.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// get decodes key into out, leaving out untouched if the key is missing.
func (s *Settings) get(key string, out interface{}) error {
	_, err := s.lookup(key, out)
	return err
}

func (s *Settings) lookup(key string, out interface{}) (bool, error) {
	b, err := s.st.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error reading setting %s: %w", key, err)
	}
	if len(b) == 0 || string(b) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("error decoding setting %s: %w", key, err)
	}
	return true, nil
}

func (s *Settings) set(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.st.Set(key, b); err != nil {
		return fmt.Errorf("error writing setting %s: %w", key, err)
	}
	return nil
}
