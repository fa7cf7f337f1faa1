package iodispatch

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mystral-run/mystral/internal/engine"
	"github.com/mystral-run/mystral/internal/util"
)

// RequestOptions mirrors spec.md §4.3's "start-request with {method, url,
// body, headers, timeout, verify-TLS}".
type RequestOptions struct {
	Method    string
	URL       string
	Body      []byte
	Headers   map[string]string
	Timeout   time.Duration
	VerifyTLS bool
}

// Response is the fetch completion payload from spec.md §4.3/§6.
type Response struct {
	OK      bool
	Status  int
	URL     string
	Headers map[string]string // lowercased keys, last-wins on duplicate
	Bytes   []byte
	Error   string
}

type httpCompletion struct {
	cb   engine.Value
	resp Response
}

// HTTPClient implements the fetch-shaped async HTTP subsystem. Scheme
// dispatch covers file://, asset://, http://, https:// per spec.md §4.3;
// file:// and asset:// are serviced synchronously against the local reader
// and bundle, since they need no network round trip.
type HTTPClient struct {
	backend engine.Backend
	assets  AssetSource

	queue    completionQueue[httpCompletion]
	inflight int32 // atomic

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewHTTPClient(backend engine.Backend, assets AssetSource) *HTTPClient {
	return &HTTPClient{backend: backend, assets: assets}
}

// rejectCrossSchemeRedirect enforces the pinned decision for spec.md's Open
// Question on cross-scheme redirects: only follow within http/https, reject
// a redirect that would leave that scheme pair (e.g. http -> file).
func rejectCrossSchemeRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("iodispatch: stopped after 10 redirects")
	}
	if scheme := req.URL.Scheme; scheme != "http" && scheme != "https" {
		return fmt.Errorf("iodispatch: refusing cross-scheme redirect to %s", req.URL.String())
	}
	return nil
}

// StartRequest dispatches by scheme and enqueues a completion when done. cb
// is protected immediately so it survives until the completion is drained,
// matching spec.md §3's callback-handle ownership rule.
func (c *HTTPClient) StartRequest(opt RequestOptions, cb engine.Value) {
	protected := c.backend.Protect(cb)
	atomic.AddInt32(&c.inflight, 1)

	scheme := schemeOf(opt.URL)
	switch scheme {
	case "file", "asset":
		c.servLocal(scheme, opt, protected)
	default:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer atomic.AddInt32(&c.inflight, -1)
			resp := c.doHTTP(opt)
			c.queue.push(httpCompletion{cb: protected, resp: resp})
		}()
	}
}

func schemeOf(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i]
	}
	return ""
}

// servLocal resolves file:// via the host filesystem and asset:// via the
// embedded bundle, both reported through the same completion queue as the
// network path so callers observe one uniform ordering guarantee.
func (c *HTTPClient) servLocal(scheme string, opt RequestOptions, cb engine.Value) {
	defer atomic.AddInt32(&c.inflight, -1)

	path := strings.TrimPrefix(opt.URL, scheme+"://")
	var data []byte
	var err error
	if scheme == "asset" {
		if c.assets == nil {
			err = fmt.Errorf("no embedded bundle attached")
		} else {
			data, err = c.assets.Read(util.NormalizeBundlePath(path))
		}
	} else {
		data, err = os.ReadFile("/" + strings.TrimPrefix(path, "/"))
	}

	resp := Response{URL: opt.URL, Headers: map[string]string{}}
	switch {
	case err == nil:
		resp.OK = true
		resp.Status = 200
		resp.Bytes = data
	case isNotExist(err):
		resp.Status = 404
		resp.Error = err.Error()
	default:
		resp.Status = 500
		resp.Error = err.Error()
	}
	c.queue.push(httpCompletion{cb: cb, resp: resp})
}

func (c *HTTPClient) doHTTP(opt RequestOptions) Response {
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = util.DefaultFetchTimeout
	}

	var body io.Reader
	if opt.Body != nil {
		body = bytes.NewReader(opt.Body)
	}
	method := opt.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequest(method, opt.URL, body)
	if err != nil {
		return Response{URL: opt.URL, Status: 500, Error: err.Error(), Headers: map[string]string{}}
	}
	for k, v := range opt.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: timeout, CheckRedirect: rejectCrossSchemeRedirect}
	if !opt.VerifyTLS {
		client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Response{URL: opt.URL, Status: 0, Error: err.Error(), Headers: map[string]string{}}
	}
	defer resp.Body.Close()

	bytesRead, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{URL: opt.URL, Status: resp.StatusCode, Error: err.Error(), Headers: map[string]string{}}
	}

	headers := map[string]string{}
	for k, vs := range resp.Header {
		if len(vs) == 0 {
			continue
		}
		headers[strings.ToLower(k)] = vs[len(vs)-1] // last-wins on duplicate
	}

	finalURL := opt.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return Response{
		OK:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:  resp.StatusCode,
		URL:     finalURL,
		Headers: headers,
		Bytes:   bytesRead,
	}
}

// Step implements eventloop.Source: it drains completed responses and
// invokes their callbacks on the main thread.
func (c *HTTPClient) Step() {
	for _, item := range c.queue.drain() {
		respVal := c.responseToValue(item.resp)
		invokeCallback(c.backend, item.cb, respVal)
	}
}

func (c *HTTPClient) Pending() bool {
	return atomic.LoadInt32(&c.inflight) > 0 || c.queue.len() > 0
}

func (c *HTTPClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

func (c *HTTPClient) responseToValue(r Response) engine.Value {
	b := c.backend
	obj := b.NewObject()
	_ = b.SetProperty(obj, "ok", b.NewBool(r.OK))
	_ = b.SetProperty(obj, "status", b.NewNumber(float64(r.Status)))
	_ = b.SetProperty(obj, "url", b.NewString(r.URL))
	if r.Error != "" {
		_ = b.SetProperty(obj, "error", b.NewString(r.Error))
	}
	headers := b.NewObject()
	for k, v := range r.Headers {
		_ = b.SetProperty(headers, k, b.NewString(v))
	}
	_ = b.SetProperty(obj, "headers", headers)

	arr, err := b.NewExternalTypedArray(engine.Uint8Array, r.Bytes)
	if err == nil {
		_ = b.SetProperty(obj, "bytes", arr)
	}
	return obj
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
