// Package httpstore is a remote.Store client for the feedsyncd HTTP API.
// Subscriptions ride a websocket that is redialled after it drops; changes
// committed while disconnected are not replayed.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// ErrRequest is returned for any non-2xx answer that has no closer match.
var ErrRequest = errors.New("remote request failed")

type Settings struct {
	HTTPTimeout      time.Duration
	ReadTimeout      time.Duration
	ReconnectTimeout time.Duration
	Buffer           int
}

func DefaultSettings() Settings {
	return Settings{
		HTTPTimeout:      10 * time.Second,
		ReadTimeout:      60 * time.Second,
		ReconnectTimeout: 2 * time.Second,
		Buffer:           256,
	}
}

type Client struct {
	base     string
	http     *http.Client
	dialer   *websocket.Dialer
	settings Settings
}

var _ remote.Store = (*Client)(nil)

func New(baseURL string, settings Settings) *Client {
	def := DefaultSettings()
	if settings.HTTPTimeout <= 0 {
		settings.HTTPTimeout = def.HTTPTimeout
	}
	if settings.ReadTimeout <= 0 {
		settings.ReadTimeout = def.ReadTimeout
	}
	if settings.ReconnectTimeout <= 0 {
		settings.ReconnectTimeout = def.ReconnectTimeout
	}
	if settings.Buffer <= 0 {
		settings.Buffer = def.Buffer
	}
	return &Client{
		base:     strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: settings.HTTPTimeout},
		dialer:   &websocket.Dialer{HandshakeTimeout: settings.HTTPTimeout},
		settings: settings,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) tableURL(table remote.Table, id string, filter remote.Filter) string {
	u := c.base + "/api/v1/tables/" + url.PathEscape(string(table))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	if len(filter) > 0 {
		q := url.Values{}
		for col, v := range filter {
			q.Set(col, fmt.Sprint(v))
		}
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, u string, body any, out any) error {
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d: %w", method, u, resp.StatusCode, ErrRequest)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %w", method, u, env.Message, statusErr(resp.StatusCode, env.Message))
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func statusErr(code int, msg string) error {
	switch {
	case code == http.StatusNotFound:
		return remote.ErrNotFound
	case code == http.StatusConflict:
		return remote.ErrConflict
	case code == http.StatusBadRequest && strings.Contains(msg, remote.ErrUnknownTable.Error()):
		return remote.ErrUnknownTable
	}
	return ErrRequest
}

func (c *Client) Query(ctx context.Context, table remote.Table, filter remote.Filter) ([]remote.Row, error) {
	var rows []remote.Row
	if err := c.do(ctx, http.MethodGet, c.tableURL(table, "", filter), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, table remote.Table, row remote.Row) (remote.Row, error) {
	var committed remote.Row
	if err := c.do(ctx, http.MethodPost, c.tableURL(table, "", nil), row, &committed); err != nil {
		return nil, err
	}
	return committed, nil
}

func (c *Client) Update(ctx context.Context, table remote.Table, id string, patch remote.Row) error {
	return c.do(ctx, http.MethodPatch, c.tableURL(table, id, nil), patch, nil)
}

func (c *Client) Delete(ctx context.Context, table remote.Table, id string) error {
	return c.do(ctx, http.MethodDelete, c.tableURL(table, id, nil), nil, nil)
}

func (c *Client) wsURL(table remote.Table, filter remote.Filter) string {
	u := c.tableURL(table, "changes", filter)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Subscribe dials the change stream once synchronously so a bad table or an
// unreachable server is reported to the caller, then keeps the stream alive
// until ctx is done.
func (c *Client) Subscribe(ctx context.Context, table remote.Table, filter remote.Filter) (<-chan remote.ChangeEvent, error) {
	u := c.wsURL(table, filter)
	ws, err := c.dial(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}
	out := make(chan remote.ChangeEvent, c.settings.Buffer)
	go func() {
		defer close(out)
		for {
			c.stream(ctx, ws, table, out)
			if ctx.Err() != nil {
				return
			}
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.settings.ReconnectTimeout):
				}
				if ws, err = c.dial(ctx, u); err == nil {
					break
				}
				logger.Info("change stream reconnect failed", zap.String("table", string(table)), zap.Error(err))
			}
			logger.Info("change stream reconnected", zap.String("table", string(table)))
		}
	}()
	return out, nil
}

func (c *Client) dial(ctx context.Context, u string) (*websocket.Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			var env envelope
			_ = json.NewDecoder(resp.Body).Decode(&env)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s: %w", env.Message, statusErr(resp.StatusCode, env.Message))
		}
		return nil, err
	}
	return ws, nil
}

// stream forwards frames until the connection drops or ctx is done.
func (c *Client) stream(ctx context.Context, ws *websocket.Conn, table remote.Table, out chan<- remote.ChangeEvent) {
	defer ws.Close()
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-streamCtx.Done()
		// unblocks ReadMessage
		_ = ws.Close()
	}()

	for {
		_ = ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("change stream dropped", zap.String("table", string(table)), zap.Error(err))
			}
			return
		}
		if len(msg) == 0 {
			continue
		}
		var ev remote.ChangeEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			logger.Warn("bad change frame", zap.String("table", string(table)), zap.Error(err))
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
