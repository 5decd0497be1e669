// Package rest implements a small REST web client for the HTTP-backed
// storage backends.
//
// This is meant to be a thin wrapper around net/http: it keeps a root URL
// and default headers, runs one call per Opts and decodes JSON or XML
// bodies. Anything else (retries, token refresh, range math) belongs to
// the callers.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
)

// Client contains the info to sustain the API.
type Client struct {
	mu           sync.RWMutex
	c            *http.Client
	rootURL      string
	errorHandler func(resp *http.Response) error
	headers      map[string]string
	username     string
	password     string
}

// NewClient takes an oauth http.Client and makes a new api instance.
func NewClient(c *http.Client) *Client {
	return &Client{
		c:            c,
		errorHandler: defaultErrorHandler,
		headers:      map[string]string{},
	}
}

// ReadBody reads resp.Body into result, closing the body.
func ReadBody(resp *http.Response) (result []byte, err error) {
	defer fs.CheckClose(resp.Body, &err)
	return ioutil.ReadAll(resp.Body)
}

// defaultErrorHandler converts a non-2xx response into an UpstreamError
// carrying the status and the start of the body.
func defaultErrorHandler(resp *http.Response) (err error) {
	body, err := ReadBody(resp)
	if err != nil {
		return errors.Wrap(err, "error reading error out of body")
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 256 {
		detail = detail[:256]
	}
	return fs.Upstreamf(resp.StatusCode, "%s", detail)
}

// SetErrorHandler sets the handler to transform non-2xx responses into
// errors. The handler is responsible for closing the body.
func (api *Client) SetErrorHandler(fn func(resp *http.Response) error) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.errorHandler = fn
	return api
}

// SetRoot sets the default RootURL. Path should be resolved relative to
// it in each Opts.
func (api *Client) SetRoot(rootURL string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.rootURL = rootURL
	return api
}

// SetHeader sets a default header for all requests.
func (api *Client) SetHeader(key, value string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.headers[key] = value
	return api
}

// RemoveHeader unsets a default header for all requests.
func (api *Client) RemoveHeader(key string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	delete(api.headers, key)
	return api
}

// SetUserPass sets Basic auth on all requests.
func (api *Client) SetUserPass(username, password string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.username = username
	api.password = password
	return api
}

// Opts contains parameters for Call, CallJSON and CallXML.
type Opts struct {
	Method        string // GET, POST, ...
	Path          string // relative to RootURL
	RootURL       string // override RootURL for this request
	Body          io.Reader
	NoResponse    bool // set to close the body after the call
	ContentType   string
	ContentLength *int64
	ContentRange  string
	ExtraHeaders  map[string]string
	Parameters    url.Values // encoded into the query string
	IgnoreStatus  bool       // pass any status through without error
}

// Call makes the call and returns the http.Response. If the status is
// not 2xx the configured error handler turns the response into an error,
// unless opts.IgnoreStatus is set.
func (api *Client) Call(ctx context.Context, opts *Opts) (resp *http.Response, err error) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	if opts == nil {
		return nil, errors.New("call() called with nil opts")
	}
	url := api.rootURL
	if opts.RootURL != "" {
		url = opts.RootURL
	}
	if url == "" {
		return nil, errors.New("RootURL not set")
	}
	url += opts.Path
	if opts.Parameters != nil && len(opts.Parameters) > 0 {
		url += "?" + opts.Parameters.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, url, opts.Body)
	if err != nil {
		return nil, err
	}
	for k, v := range api.headers {
		req.Header.Set(k, v)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.ContentLength != nil {
		req.ContentLength = *opts.ContentLength
	}
	if opts.ContentRange != "" {
		req.Header.Set("Content-Range", opts.ContentRange)
	}
	for k, v := range opts.ExtraHeaders {
		req.Header.Set(k, v)
	}
	if api.username != "" || api.password != "" {
		req.SetBasicAuth(api.username, api.password)
	}
	api.mu.RUnlock()
	resp, err = api.c.Do(req)
	api.mu.RLock()
	if err != nil {
		return nil, err
	}
	if !opts.IgnoreStatus {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			err = api.errorHandler(resp)
			if err == nil {
				err = errors.Errorf("http error %d: %v", resp.StatusCode, resp.Status)
			}
			return resp, err
		}
	}
	if opts.NoResponse {
		return resp, resp.Body.Close()
	}
	return resp, nil
}

// DecodeJSON decodes resp.Body into result, closing the body.
func DecodeJSON(resp *http.Response, result interface{}) (err error) {
	defer fs.CheckClose(resp.Body, &err)
	decoder := json.NewDecoder(resp.Body)
	return decoder.Decode(result)
}

// DecodeXML decodes resp.Body into result, closing the body.
func DecodeXML(resp *http.Response, result interface{}) (err error) {
	defer fs.CheckClose(resp.Body, &err)
	decoder := xml.NewDecoder(resp.Body)
	// MEGAcmd and some WebDAV servers emit stray charset names.
	decoder.Strict = false
	return decoder.Decode(result)
}

// CallJSON runs Call and decodes the body as JSON into response (if not
// nil). If request is not nil it is marshalled as the JSON request body.
func (api *Client) CallJSON(ctx context.Context, opts *Opts, request interface{}, response interface{}) (resp *http.Response, err error) {
	return api.callCodec(ctx, opts, request, response, json.Marshal, DecodeJSON, "application/json")
}

// CallXML runs Call and decodes the body as XML into response (if not
// nil). If request is not nil it is marshalled as the XML request body.
func (api *Client) CallXML(ctx context.Context, opts *Opts, request interface{}, response interface{}) (resp *http.Response, err error) {
	return api.callCodec(ctx, opts, request, response, xml.Marshal, DecodeXML, "application/xml")
}

type marshalFn func(v interface{}) ([]byte, error)
type decodeFn func(resp *http.Response, result interface{}) (err error)

func (api *Client) callCodec(ctx context.Context, opts *Opts, request interface{}, response interface{}, marshal marshalFn, decode decodeFn, contentType string) (resp *http.Response, err error) {
	var requestBody []byte
	// Marshal the request if given.
	if request != nil {
		requestBody, err = marshal(request)
		if err != nil {
			return nil, err
		}
		// Set the body up as a marshalled object if no body passed in.
		if opts.Body == nil {
			opts = opts.Copy()
			opts.ContentType = contentType
			opts.Body = bytes.NewBuffer(requestBody)
		}
	}
	resp, err = api.Call(ctx, opts)
	if err != nil {
		return resp, err
	}
	if response == nil || opts.NoResponse {
		return resp, nil
	}
	err = decode(resp, response)
	return resp, err
}

// Copy creates a copy of the options.
func (o *Opts) Copy() *Opts {
	newOpts := *o
	return &newOpts
}

// URLPathEscape escapes a path, leaving the slashes alone.
func URLPathEscape(in string) string {
	var u url.URL
	u.Path = in
	return u.EscapedPath()
}

// URLJoin joins a base URL and a relative path, preserving the base's
// trailing path components.
func URLJoin(base, rel string) string {
	b := strings.TrimRight(base, "/")
	r := strings.TrimLeft(rel, "/")
	if r == "" {
		return b
	}
	return b + "/" + r
}
