package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/morezero/ipc-bridge/pkg/endpoint"
	"github.com/morezero/ipc-bridge/pkg/events"
	"github.com/morezero/ipc-bridge/pkg/metrics"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

const testPrefix = "dispatcher:dispatcher_test"
const testSecret = "my secret key"

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []*events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*events.Event(nil), p.events...)
}

func newTestDispatcher(t *testing.T, mutate func(*Params)) (*Dispatcher, *endpoint.Registry, *recordingPublisher) {
	t.Helper()
	reg := endpoint.NewRegistry()
	pub := &recordingPublisher{}
	params := Params{Secret: testSecret, Registry: reg, Publisher: pub}
	if mutate != nil {
		mutate(&params)
	}
	return NewDispatcher(params), reg, pub
}

func dispatch(t *testing.T, d *Dispatcher, auth, body string) string {
	t.Helper()
	out, err := d.Dispatch(context.Background(), &Call{Authorization: auth, RequestID: "req-1", Body: []byte(body)})
	if err != nil {
		t.Fatalf("%s - unexpected dispatch error: %v", testPrefix, err)
	}
	return string(out)
}

func TestDispatch_Success(t *testing.T) {
	d, reg, pub := newTestDispatcher(t, nil)
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) {
		return "tested", nil
	})

	got := dispatch(t, d, testSecret, `{"endpoint":"test","data":{}}`)
	if got != `{"content":"tested"}` {
		t.Errorf("%s - got %s, want content tested", testPrefix, got)
	}
	if n := len(pub.snapshot()); n != 0 {
		t.Errorf("%s - expected no events on success, got %d", testPrefix, n)
	}
}

func TestDispatch_HandlerSeesFields(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	reg.Register("greet", func(_ context.Context, req *endpoint.Request) (any, error) {
		name, err := endpoint.FieldAs[string](req, "name")
		if err != nil {
			return nil, err
		}
		return map[string]any{"greeting": "hello " + name, "fields": req.Len()}, nil
	})

	got := dispatch(t, d, testSecret, `{"endpoint":"greet","data":{"name":"ada"}}`)
	if got != `{"content":{"fields":1,"greeting":"hello ada"}}` && got != `{"content":{"greeting":"hello ada","fields":1}}` {
		t.Errorf("%s - unexpected body %s", testPrefix, got)
	}
}

func TestDispatch_AuthenticationFailure(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	called := false
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) {
		called = true
		return "tested", nil
	})

	want := `{"code":403,"error":"Forbidden, No token or invalid token provided"}`
	tests := []struct {
		name string
		auth string
		body string
	}{
		{"missing header", "", `{"endpoint":"test","data":{}}`},
		{"wrong secret", "nope", `{"endpoint":"test","data":{}}`},
		{"secret prefix", testSecret[:4], `{"endpoint":"test","data":{}}`},
		{"malformed body", "nope", `{"endpoint":`},
		{"empty body", "", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dispatch(t, d, tt.auth, tt.body)
			if got != want {
				t.Errorf("%s - got %s, want %s", testPrefix, got, want)
			}
		})
	}
	if called {
		t.Errorf("%s - handler must not run for unauthenticated calls", testPrefix)
	}
}

func TestDispatch_UnknownEndpoint(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) { return "tested", nil })

	want := `{"code":500,"error":"no endpoint provided or invalid provided"}`
	bodies := map[string]string{
		"unregistered":     `{"endpoint":"nope","data":{}}`,
		"missing endpoint": `{"data":{}}`,
		"empty endpoint":   `{"endpoint":"","data":{}}`,
		"malformed json":   `{"endpoint":`,
		"data not object":  `{"endpoint":"test","data":[1]}`,
		"empty body":       ``,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			got := dispatch(t, d, testSecret, body)
			if got != want {
				t.Errorf("%s - got %s, want %s", testPrefix, got, want)
			}
		})
	}
}

func TestDispatch_HandlerErrorReportsOnce(t *testing.T) {
	d, reg, pub := newTestDispatcher(t, nil)
	boom := errors.New("boom")
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) {
		return nil, boom
	})

	got := dispatch(t, d, testSecret, `{"endpoint":"test","data":{}}`)
	if got != `{"code":500,"error_in_server":"boom"}` {
		t.Errorf("%s - got %s", testPrefix, got)
	}

	evs := pub.snapshot()
	if len(evs) != 1 {
		t.Fatalf("%s - expected exactly one event, got %d", testPrefix, len(evs))
	}
	if evs[0].Name != events.NameError || evs[0].Endpoint != "test" || evs[0].Err != boom {
		t.Errorf("%s - unexpected event %+v", testPrefix, evs[0])
	}
	if evs[0].RequestID != "req-1" {
		t.Errorf("%s - RequestID = %q, want req-1", testPrefix, evs[0].RequestID)
	}
}

func TestDispatch_HandlerPanicIsRecovered(t *testing.T) {
	d, reg, pub := newTestDispatcher(t, nil)
	reg.Register("explode", func(context.Context, *endpoint.Request) (any, error) {
		panic("kaboom")
	})

	got := dispatch(t, d, testSecret, `{"endpoint":"explode"}`)
	if !strings.Contains(got, `"error_in_server":"panic: kaboom"`) {
		t.Errorf("%s - got %s", testPrefix, got)
	}
	if len(pub.snapshot()) != 1 {
		t.Errorf("%s - expected one error event", testPrefix)
	}
}

func TestDispatch_HandlerTimeout(t *testing.T) {
	m := metrics.NewMetrics()
	d, reg, pub := newTestDispatcher(t, func(p *Params) {
		p.HandlerTimeout = 20 * time.Millisecond
		p.Metrics = m
	})
	reg.Register("hang", func(ctx context.Context, _ *endpoint.Request) (any, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return "too late", nil
	})

	got := dispatch(t, d, testSecret, `{"endpoint":"hang"}`)
	if !strings.Contains(got, `"error_in_server"`) || !strings.Contains(got, "did not complete within") {
		t.Errorf("%s - got %s", testPrefix, got)
	}
	evs := pub.snapshot()
	if len(evs) != 1 || !errors.Is(evs[0].Err, context.DeadlineExceeded) {
		t.Errorf("%s - expected one deadline event, got %+v", testPrefix, evs)
	}
	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("hang", metrics.OutcomeTimeout)); v != 1 {
		t.Errorf("%s - timeout outcome count = %v, want 1", testPrefix, v)
	}
}

func TestDispatch_SerializationError(t *testing.T) {
	d, reg, pub := newTestDispatcher(t, nil)
	reg.Register("sock", func(context.Context, *endpoint.Request) (any, error) {
		return map[string]any{"conn": make(chan int)}, nil
	})

	out, err := d.Dispatch(context.Background(), &Call{Authorization: testSecret, Body: []byte(`{"endpoint":"sock"}`)})

	var serErr *wire.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("%s - expected *wire.SerializationError, got %v", testPrefix, err)
	}
	if serErr.Endpoint != "sock" {
		t.Errorf("%s - Endpoint = %q, want sock", testPrefix, serErr.Endpoint)
	}
	if !errors.Is(err, wire.ErrSerialization) {
		t.Errorf("%s - expected errors.Is ErrSerialization", testPrefix)
	}

	want := `{"code":500,"error":["IPC route returned values which are not able to be sent over sockets."," If you are trying to send a host object,"," please only send the data you need."]}`
	if string(out) != want {
		t.Errorf("%s - got %s, want %s", testPrefix, out, want)
	}

	evs := pub.snapshot()
	if len(evs) != 1 || !errors.Is(evs[0].Err, wire.ErrSerialization) {
		t.Errorf("%s - expected one serialization event, got %+v", testPrefix, evs)
	}
}

// panickyResult fails inside its own marshaller.
type panickyResult struct{}

func (panickyResult) MarshalJSON() ([]byte, error) {
	panic("marshal blew up")
}

func TestDispatch_EncodePanicIsRecovered(t *testing.T) {
	m := metrics.NewMetrics()
	d, reg, pub := newTestDispatcher(t, func(p *Params) { p.Metrics = m })
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) {
		return panickyResult{}, nil
	})

	var (
		out []byte
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("%s - Dispatch panicked: %v", testPrefix, r)
			}
		}()
		out, err = d.Dispatch(context.Background(), &Call{Authorization: testSecret, Body: []byte(`{"endpoint":"test"}`)})
	}()

	var serErr *wire.SerializationError
	if !errors.As(err, &serErr) || serErr.Endpoint != "test" {
		t.Fatalf("%s - expected *wire.SerializationError for test, got %v", testPrefix, err)
	}
	want := `{"code":500,"error":["IPC route returned values which are not able to be sent over sockets."," If you are trying to send a host object,"," please only send the data you need."]}`
	if string(out) != want {
		t.Errorf("%s - got %s, want %s", testPrefix, out, want)
	}
	if evs := pub.snapshot(); len(evs) != 1 || !errors.Is(evs[0].Err, wire.ErrSerialization) {
		t.Errorf("%s - expected one serialization event, got %+v", testPrefix, evs)
	}
	if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("test", metrics.OutcomeSerializationError)); v != 1 {
		t.Errorf("%s - serialization_error count = %v, want 1", testPrefix, v)
	}
	if v := testutil.ToFloat64(m.InFlight); v != 0 {
		t.Errorf("%s - InFlight = %v, want 0", testPrefix, v)
	}
}

func TestDispatch_HandlerErrorWithEmptyMessage(t *testing.T) {
	d, reg, pub := newTestDispatcher(t, nil)
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) {
		return nil, errors.New("")
	})

	out := dispatch(t, d, testSecret, `{"endpoint":"test"}`)
	want := `{"code":500,"error_in_server":"*errors.errorString"}`
	if out != want {
		t.Errorf("%s - got %s, want %s", testPrefix, out, want)
	}
	if evs := pub.snapshot(); len(evs) != 1 {
		t.Errorf("%s - expected one error event, got %d", testPrefix, len(evs))
	}

	_, err := wire.ParseResponse("test", []byte(out))
	var remote *wire.RemoteError
	if !errors.As(err, &remote) || remote.Kind != wire.KindHandler {
		t.Errorf("%s - expected handler RemoteError, got %T %v", testPrefix, err, err)
	}
}

func TestDispatch_VersionNegotiation(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) { return "tested", nil })

	tests := []struct {
		version string
		wantOK  bool
	}{
		{"", true},
		{"1.0.0", true},
		{"1.7.3", true},
		{"2.0.0", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			out, err := d.Dispatch(context.Background(), &Call{
				Authorization: testSecret,
				Version:       tt.version,
				Body:          []byte(`{"endpoint":"test"}`),
			})
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", testPrefix, err)
			}
			ok := string(out) == `{"content":"tested"}`
			if ok != tt.wantOK {
				t.Errorf("%s - version %q: got %s", testPrefix, tt.version, out)
			}
			if !tt.wantOK && !strings.Contains(string(out), "incompatible ipc protocol version") {
				t.Errorf("%s - expected version error, got %s", testPrefix, out)
			}
		})
	}
}

type greeter struct {
	prefix string
}

func (g *greeter) Greet(_ context.Context, req *endpoint.Request) (any, error) {
	return g.prefix + req.Endpoint(), nil
}

func TestDispatch_ModuleBinding(t *testing.T) {
	modules := endpoint.NewModuleSet()
	d, reg, pub := newTestDispatcher(t, func(p *Params) { p.Host = modules })
	endpoint.RegisterMethod(reg, "greet", "greeter", (*greeter).Greet)

	// Not loaded: reported like any other handler failure.
	got := dispatch(t, d, testSecret, `{"endpoint":"greet"}`)
	if !strings.Contains(got, "module not loaded") {
		t.Errorf("%s - got %s", testPrefix, got)
	}
	if len(pub.snapshot()) != 1 {
		t.Errorf("%s - expected one error event", testPrefix)
	}

	modules.Load("greeter", &greeter{prefix: "hi from "})
	got = dispatch(t, d, testSecret, `{"endpoint":"greet"}`)
	if got != `{"content":"hi from greet"}` {
		t.Errorf("%s - got %s", testPrefix, got)
	}
}

func TestDispatch_RedactedErrorPolicy(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, func(p *Params) { p.ErrorPolicy = wire.RedactedErrorPolicy })
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) {
		return nil, errors.New("password=hunter2")
	})

	got := dispatch(t, d, testSecret, `{"endpoint":"test"}`)
	if got != `{"code":500,"error_in_server":"internal server error"}` {
		t.Errorf("%s - got %s", testPrefix, got)
	}
}

func TestDispatch_Metrics(t *testing.T) {
	m := metrics.NewMetrics()
	d, reg, _ := newTestDispatcher(t, func(p *Params) { p.Metrics = m })
	reg.Register("test", func(context.Context, *endpoint.Request) (any, error) { return "tested", nil })

	dispatch(t, d, testSecret, `{"endpoint":"test"}`)
	dispatch(t, d, "bad", `{"endpoint":"test"}`)
	dispatch(t, d, testSecret, `{"endpoint":"nope"}`)

	checks := []struct {
		endpoint, outcome string
	}{
		{"test", metrics.OutcomeOK},
		{"_unresolved", metrics.OutcomeForbidden},
		{"_unresolved", metrics.OutcomeUnknownEndpoint},
	}
	for _, c := range checks {
		if v := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(c.endpoint, c.outcome)); v != 1 {
			t.Errorf("%s - %s/%s = %v, want 1", testPrefix, c.endpoint, c.outcome, v)
		}
	}
	if v := testutil.ToFloat64(m.InFlight); v != 0 {
		t.Errorf("%s - InFlight = %v, want 0", testPrefix, v)
	}
}

func TestServeHTTP(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, nil)
	reg.Register("test", func(_ context.Context, req *endpoint.Request) (any, error) {
		return req.RequestID(), nil
	})

	t.Run("echoes request id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/ipc", strings.NewReader(`{"endpoint":"test","data":{}}`))
		r.Header.Set("Authorization", testSecret)
		r.Header.Set("X-Request-Id", "abc-123")
		w := httptest.NewRecorder()

		d.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("%s - status = %d, want 200", testPrefix, w.Code)
		}
		if got := w.Header().Get("X-Request-Id"); got != "abc-123" {
			t.Errorf("%s - X-Request-Id = %q, want abc-123", testPrefix, got)
		}
		if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
			t.Errorf("%s - unexpected content type %q", testPrefix, w.Header().Get("Content-Type"))
		}
		if w.Body.String() != `{"content":"abc-123"}` {
			t.Errorf("%s - body = %s", testPrefix, w.Body.String())
		}
	})

	t.Run("generates request id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/ipc", strings.NewReader(`{"endpoint":"test"}`))
		r.Header.Set("Authorization", testSecret)
		w := httptest.NewRecorder()

		d.ServeHTTP(w, r)

		if w.Header().Get("X-Request-Id") == "" {
			t.Errorf("%s - expected generated request id", testPrefix)
		}
	})

	t.Run("oversized body", func(t *testing.T) {
		big := `{"endpoint":"test","data":{"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}}`

		r := httptest.NewRequest(http.MethodPost, "/ipc", strings.NewReader(big))
		r.Header.Set("Authorization", testSecret)
		w := httptest.NewRecorder()
		d.ServeHTTP(w, r)
		if w.Body.String() != `{"code":500,"error":"request body too large"}` {
			t.Errorf("%s - body = %s", testPrefix, w.Body.String())
		}

		r = httptest.NewRequest(http.MethodPost, "/ipc", strings.NewReader(big))
		w = httptest.NewRecorder()
		d.ServeHTTP(w, r)
		if w.Body.String() != `{"code":403,"error":"Forbidden, No token or invalid token provided"}` {
			t.Errorf("%s - unauthenticated body = %s", testPrefix, w.Body.String())
		}
	})

	t.Run("forbidden is still 200", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/ipc", strings.NewReader(`not json`))
		w := httptest.NewRecorder()

		d.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("%s - status = %d, want 200", testPrefix, w.Code)
		}
		if w.Body.String() != `{"code":403,"error":"Forbidden, No token or invalid token provided"}` {
			t.Errorf("%s - body = %s", testPrefix, w.Body.String())
		}
	})
}
