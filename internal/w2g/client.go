// Package w2g is a small client for the watch-party provider's REST API.
package w2g

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBodyLen caps how much of an error body is kept.
const maxBodyLen = 4096

// Config represents the provider configuration.
type Config struct {
	APIURL     string        `koanf:"api_url"`
	RoomDomain string        `koanf:"room_domain"`
	Timeout    time.Duration `koanf:"timeout"`
}

// Client talks to the provider API.
type Client struct {
	cfg  Config
	http *http.Client
}

// Room is the result of a room creation.
type Room struct {
	StreamKey string
	AccessKey string
	RoomID    string
}

// Item is a playlist entry.
type Item struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d - %s", e.Op, e.Status, e.Body)
}

// NetError wraps a transport level failure (connection refused, timeout).
type NetError struct {
	Op  string
	Err error
}

func (e *NetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

// ErrMissingStreamKey indicates a successful room creation response that
// carried no stream key.
var ErrMissingStreamKey = errors.New("invalid room creation response - missing streamkey")

type createReq struct {
	APIKey string `json:"w2g_api_key"`
	Share  string `json:"share"`
}

type createResp struct {
	StreamKey    string          `json:"streamkey"`
	AccessKey    string          `json:"access_key"`
	AccessKeyAlt string          `json:"accesskey"`
	RoomID       json.RawMessage `json:"room_id"`
	RoomIDAlt    json.RawMessage `json:"roomid"`
}

type addItemsReq struct {
	APIKey string `json:"w2g_api_key"`
	Items  []Item `json:"add_items"`
}

// New returns a new Client. A nil hc uses an http.Client with cfg.Timeout.
func New(cfg Config, hc *http.Client) *Client {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc}
}

// CreateRoom creates a new room with shareURL as its first video.
func (c *Client) CreateRoom(ctx context.Context, apiKey, shareURL string) (Room, error) {
	const op = "create room"

	b, err := c.post(ctx, op, c.cfg.APIURL+"/rooms/create.json", createReq{
		APIKey: apiKey,
		Share:  shareURL,
	})
	if err != nil {
		return Room{}, err
	}

	var res createResp
	if err := json.Unmarshal(b, &res); err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrMissingStreamKey, err)
	}
	if res.StreamKey == "" {
		return Room{}, ErrMissingStreamKey
	}

	out := Room{
		StreamKey: res.StreamKey,
		AccessKey: res.AccessKey,
		RoomID:    rawID(res.RoomID),
	}
	if out.AccessKey == "" {
		out.AccessKey = res.AccessKeyAlt
	}
	if out.RoomID == "" {
		out.RoomID = rawID(res.RoomIDAlt)
	}
	return out, nil
}

// AddItems appends items to the current playlist of the room. The provider
// may answer with an empty or non-JSON body on success, which is ignored.
func (c *Client) AddItems(ctx context.Context, apiKey, roomKey string, items []Item) error {
	u := fmt.Sprintf("%s/rooms/%s/playlists/current/playlist_items/sync_update",
		c.cfg.APIURL, url.PathEscape(roomKey))

	_, err := c.post(ctx, "add to playlist", u, addItemsReq{
		APIKey: apiKey,
		Items:  items,
	})
	return err
}

// RoomURL returns the shareable URL of a room. The access key form is
// preferred when the access key is known.
func (c *Client) RoomURL(accessKey, roomKey string) string {
	return RoomURL(c.cfg.RoomDomain, accessKey, roomKey)
}

// RoomURL returns the shareable URL of a room on domain.
func RoomURL(domain, accessKey, roomKey string) string {
	if accessKey != "" {
		return "https://" + domain + "/en/room/?access_key=" + accessKey
	}
	return "https://" + domain + "/rooms/" + roomKey
}

// post sends a JSON request and returns the response body of a 2xx reply.
func (c *Client) post(ctx context.Context, op, u string, body interface{}) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: error creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(out) > maxBodyLen {
			out = out[:maxBodyLen]
		}
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: string(out)}
	}
	return out, nil
}

// rawID turns a JSON number or string ID into a string.
func rawID(b json.RawMessage) string {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}
