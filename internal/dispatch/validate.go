package dispatch

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/knadh/y2w/internal/settings"
	"github.com/knadh/y2w/internal/w2g"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// ValidatorConfig represents the credential validator options.
type ValidatorConfig struct {
	// ProbeVideo is shared into the room created by a validation call.
	ProbeVideo string        `koanf:"probe_video"`
	TTL        time.Duration `koanf:"validation_ttl"`
}

// Validation is the result of an API key check.
type Validation struct {
	// Success is false when validity could not be determined.
	Success     bool      `json:"success"`
	Valid       bool      `json:"valid"`
	HasAPIKey   bool      `json:"hasApiKey"`
	Cached      bool      `json:"cached"`
	ValidatedAt time.Time `json:"validatedAt,omitempty"`

	Kind  Kind   `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// Validator checks API keys against the provider and caches the verdict.
type Validator struct {
	cfg  ValidatorConfig
	prov Provider
	set  *settings.Settings
	log  zerolog.Logger
	now  func() time.Time
}

// NewValidator returns a new Validator.
func NewValidator(cfg ValidatorConfig, prov Provider, set *settings.Settings, l zerolog.Logger) *Validator {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour * 24
	}
	return &Validator{
		cfg:  cfg,
		prov: prov,
		set:  set,
		log:  l,
		now:  time.Now,
	}
}

// Fingerprint returns a stable, non-reversible identifier for an API key.
func Fingerprint(apiKey string) string {
	h := blake2b.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:16])
}

// Check validates the stored API key.
func (v *Validator) Check(ctx context.Context) Validation {
	cfg, err := v.set.Load()
	if err != nil {
		return Validation{Kind: KindStore, Error: err.Error()}
	}
	return v.Validate(ctx, cfg.APIKey)
}

// Validate tests apiKey by creating a room with the probe video. A verdict
// cached for the same key within the TTL is returned without a network call.
func (v *Validator) Validate(ctx context.Context, apiKey string) Validation {
	if apiKey == "" {
		e := &Error{Kind: KindMissingCredentials}
		return Validation{Success: true, Kind: e.Kind, Error: e.Error()}
	}

	cfg, err := v.set.Load()
	if err != nil {
		return Validation{HasAPIKey: true, Kind: KindStore, Error: err.Error()}
	}

	fp := Fingerprint(apiKey)
	if c := cfg.Validation; c != nil && c.Fingerprint == fp && v.now().Sub(c.ValidatedAt) < v.cfg.TTL {
		out := Validation{
			Success:     true,
			Valid:       c.Valid,
			HasAPIKey:   true,
			Cached:      true,
			ValidatedAt: c.ValidatedAt,
		}
		if !c.Valid {
			out.Error = "Invalid API key"
		}
		return out
	}

	_, err = v.prov.CreateRoom(ctx, apiKey, v.cfg.ProbeVideo)
	if err == nil {
		return v.store(fp, true)
	}

	var se *w2g.StatusError
	if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
		out := v.store(fp, false)
		out.Error = "Invalid API key"
		return out
	}

	// Anything else says nothing about the key itself.
	e := &Error{Kind: KindValidationIndeterminate, Err: err}
	if se != nil {
		e.Status = se.Status
		e.Body = se.Body
	}
	v.log.Warn().Err(err).Msg("API key validation indeterminate")
	return Validation{HasAPIKey: true, Kind: e.Kind, Error: e.Error()}
}

// store caches a verdict and returns it as a Validation.
func (v *Validator) store(fp string, valid bool) Validation {
	now := v.now()
	if err := v.set.SetValidation(settings.Validation{
		Valid:       valid,
		ValidatedAt: now,
		Fingerprint: fp,
	}); err != nil {
		v.log.Error().Err(err).Msg("error caching API key validation")
	}

	return Validation{
		Success:     true,
		Valid:       valid,
		HasAPIKey:   true,
		ValidatedAt: now,
	}
}
