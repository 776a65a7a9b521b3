// Package client calls endpoints exposed by an IPC server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/ipc-bridge/pkg/commsutil"
	"github.com/morezero/ipc-bridge/pkg/version"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

const logPrefix = "client:client"

// Defaults for New.
const (
	DefaultPath    = "/ipc"
	DefaultTimeout = 30 * time.Second
)

// maxResponseBytes caps the response body read from the server.
const maxResponseBytes = 32 << 20

// Option configures a Client.
type Option func(*Client)

// WithPath sets the IPC path on the host. A leading slash is added if missing.
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" && !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		c.path = path
	}
}

// WithURL overrides the full endpoint URL, e.g. for plain http in tests.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request. Zero disables the client-side bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithComms sends requests over COMMS (NATS) request/reply on subject instead
// of HTTP.
func WithComms(nc *comms.Conn, subject string) Option {
	return func(c *Client) {
		if subject == "" {
			subject = commsutil.SubjectRPC
		}
		c.nc = nc
		c.subject = subject
	}
}

// Client sends authenticated requests to one IPC server.
type Client struct {
	host       string
	path       string
	url        string
	secret     string
	timeout    time.Duration
	httpClient *http.Client
	nc         *comms.Conn
	subject    string
}

// New creates a Client for the server at host. Requests go to
// https://<host><path> unless WithURL or WithComms is given.
func New(host, secret string, opts ...Option) *Client {
	c := &Client{
		host:    host,
		path:    DefaultPath,
		secret:  secret,
		timeout: DefaultTimeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.url == "" {
		c.url = "https://" + c.host + c.path
	}
	return c
}

// URL returns the URL requests are posted to.
func (c *Client) URL() string {
	return c.url
}

// Request calls endpoint with fields and returns the decoded content.
// Protocol errors are returned as *wire.RemoteError and transport failures as
// *wire.TransportError.
func (c *Client) Request(ctx context.Context, endpoint string, fields wire.Fields) (any, error) {
	var out any
	if err := c.RequestInto(ctx, endpoint, fields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestInto calls endpoint and decodes the content into out.
func (c *Client) RequestInto(ctx context.Context, endpoint string, fields wire.Fields, out any) error {
	content, err := c.do(ctx, endpoint, fields)
	if err != nil {
		return err
	}
	if err := wire.Decode(content, out); err != nil {
		return fmt.Errorf("%s - failed to decode content of %s: %w", logPrefix, endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string, fields wire.Fields) ([]byte, error) {
	if endpoint == "" {
		return nil, wire.ErrEmptyEndpoint
	}
	if fields == nil {
		fields = wire.Fields{}
	}

	body, err := wire.Encode(wire.OutboundEnvelope{Endpoint: endpoint, Data: fields})
	if err != nil {
		return nil, &wire.SerializationError{Endpoint: endpoint, Err: err}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	requestID := uuid.NewString()
	slog.Debug(fmt.Sprintf("%s - endpoint=%s id=%s", logPrefix, endpoint, requestID))

	var raw []byte
	if c.nc != nil {
		raw, err = c.sendComms(ctx, requestID, body)
	} else {
		raw, err = c.sendHTTP(ctx, requestID, body)
	}
	if err != nil {
		return nil, err
	}

	return wire.ParseResponse(endpoint, raw)
}

func (c *Client) sendHTTP(ctx context.Context, requestID string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &wire.TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(wire.HeaderAuthorization, c.secret)
	req.Header.Set(wire.HeaderVersion, version.Protocol)
	req.Header.Set(wire.HeaderRequestID, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &wire.TransportError{Op: "post " + c.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &wire.TransportError{Op: "post " + c.url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &wire.TransportError{Op: "read response", Err: err}
	}
	return raw, nil
}

func (c *Client) sendComms(ctx context.Context, requestID string, body []byte) ([]byte, error) {
	msg := comms.NewMsg(c.subject)
	msg.Header.Set(wire.HeaderAuthorization, c.secret)
	msg.Header.Set(wire.HeaderVersion, version.Protocol)
	msg.Header.Set(wire.HeaderRequestID, requestID)
	msg.Data = body

	resp, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, comms.ErrNoResponders) {
			err = fmt.Errorf("no IPC server listening on %s: %w", c.subject, err)
		}
		return nil, &wire.TransportError{Op: "request " + c.subject, Err: err}
	}
	return resp.Data, nil
}
