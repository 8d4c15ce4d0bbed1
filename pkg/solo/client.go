// ABOUTME: HTTP client for the solo daemon API
// ABOUTME: Wraps snapshot, command, discovery, and health endpoints with typed errors
package solo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Config holds client settings.
type Config struct {
	// Addr is the daemon's host:port.
	Addr string

	// Timeout bounds each HTTP request. Zero means 10s.
	Timeout time.Duration
}

// Client talks to one solo daemon.
type Client struct {
	config Config
	http   *http.Client
}

// Error is a failed API call. Kind is one of the Kind constants and
// Status the HTTP status code the daemon answered with.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewClient creates a client for the daemon at cfg.Addr.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: timeout},
	}
}

// Addr returns the daemon address this client targets.
func (c *Client) Addr() string {
	return c.config.Addr
}

// Snapshot fetches the current full model.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if err := c.get(ctx, "/api/v1/snapshot", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Health probes the daemon's liveness endpoint.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var hs HealthStatus
	if err := c.get(ctx, "/healthz", &hs); err != nil {
		return nil, err
	}
	return &hs, nil
}

// Discover asks the daemon for an immediate discovery pass. The scan
// runs in the background; watch the event feed for new devices.
func (c *Client) Discover(ctx context.Context) (*DiscoverResult, error) {
	var res DiscoverResult
	if err := c.post(ctx, "/api/v1/discover", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Do submits a raw command. Most callers use the convenience methods;
// Do exposes the full envelope, including IfGeneration.
func (c *Client) Do(ctx context.Context, cmd Command) (*CommandResult, error) {
	var res CommandResult
	if err := c.post(ctx, "/api/v1/command", cmd, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Play starts playback on the group the device belongs to.
func (c *Client) Play(ctx context.Context, deviceID string) error {
	_, err := c.Do(ctx, Command{Action: ActionPlay, DeviceID: deviceID})
	return err
}

// Pause pauses the group the device belongs to.
func (c *Client) Pause(ctx context.Context, deviceID string) error {
	_, err := c.Do(ctx, Command{Action: ActionPause, DeviceID: deviceID})
	return err
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context, deviceID string) error {
	_, err := c.Do(ctx, Command{Action: ActionNext, DeviceID: deviceID})
	return err
}

// Previous returns to the previous track.
func (c *Client) Previous(ctx context.Context, deviceID string) error {
	_, err := c.Do(ctx, Command{Action: ActionPrevious, DeviceID: deviceID})
	return err
}

// SetVolume sets one device's volume, 0 to 100.
func (c *Client) SetVolume(ctx context.Context, deviceID string, level int) error {
	_, err := c.Do(ctx, Command{Action: ActionSetVolume, DeviceID: deviceID, Volume: &level})
	return err
}

// AdjustVolume nudges one device's volume by delta steps.
func (c *Client) AdjustVolume(ctx context.Context, deviceID string, delta int) error {
	_, err := c.Do(ctx, Command{Action: ActionAdjustVolume, DeviceID: deviceID, Delta: &delta})
	return err
}

// SetMute mutes or unmutes one device.
func (c *Client) SetMute(ctx context.Context, deviceID string, muted bool) error {
	_, err := c.Do(ctx, Command{Action: ActionSetMute, DeviceID: deviceID, Muted: &muted})
	return err
}

// SetGroupVolume sets the same level on every member of a group.
func (c *Client) SetGroupVolume(ctx context.Context, groupID string, level int) error {
	_, err := c.Do(ctx, Command{Action: ActionSetGroupVolume, GroupID: groupID, Volume: &level})
	return err
}

// AdjustGroupVolume nudges every member of a group by delta steps.
func (c *Client) AdjustGroupVolume(ctx context.Context, groupID string, delta int) error {
	_, err := c.Do(ctx, Command{Action: ActionAdjustGroupVolume, GroupID: groupID, Delta: &delta})
	return err
}

// JoinGroup moves a device into the coordinator's group.
func (c *Client) JoinGroup(ctx context.Context, deviceID, coordinatorID string) error {
	_, err := c.Do(ctx, Command{Action: ActionJoinGroup, DeviceID: deviceID, CoordinatorID: coordinatorID})
	return err
}

// LeaveGroup breaks a device out into its own standalone group.
func (c *Client) LeaveGroup(ctx context.Context, deviceID string) error {
	_, err := c.Do(ctx, Command{Action: ActionLeaveGroup, DeviceID: deviceID})
	return err
}

// CreateGroup forms a group from the coordinator and the given members.
func (c *Client) CreateGroup(ctx context.Context, coordinatorID string, memberIDs ...string) error {
	_, err := c.Do(ctx, Command{Action: ActionCreateGroup, CoordinatorID: coordinatorID, MemberIDs: memberIDs})
	return err
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.roundTrip(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) url(path string) string {
	return "http://" + c.config.Addr + path
}

// decodeError turns a non-2xx response into *Error. Bodies that are not
// the daemon's error envelope still yield a usable message.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Kind != "" {
		return &Error{
			Status:  resp.StatusCode,
			Kind:    body.Error.Kind,
			Message: body.Error.Message,
		}
	}
	return &Error{
		Status:  resp.StatusCode,
		Kind:    KindInternal,
		Message: http.StatusText(resp.StatusCode),
	}
}
