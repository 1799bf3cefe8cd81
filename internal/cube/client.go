package cube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mohammad-safakhou/insight/config"
)

// StatusError is returned when the semantic layer answers with a non-2xx
// status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cube api returned %d: %s", e.Code, e.Body)
}

// IsTransient reports whether err may succeed on a plain retry. Server-side
// failures, timeouts and connection errors qualify; client errors (bad query,
// unknown member) do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// MetaMember is a measure or dimension definition from the /meta endpoint.
type MetaMember struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// MetaJoin names a cube joinable from another cube.
type MetaJoin struct {
	Name string `json:"name"`
}

// MetaCube is one cube definition from the /meta endpoint.
type MetaCube struct {
	Name       string       `json:"name"`
	Title      string       `json:"title"`
	Measures   []MetaMember `json:"measures"`
	Dimensions []MetaMember `json:"dimensions"`
	Joins      []MetaJoin   `json:"joins"`
}

// Meta is the /meta response.
type Meta struct {
	Cubes []MetaCube `json:"cubes"`
}

// Client talks to a Cube-compatible semantic layer over its REST API.
type Client struct {
	baseURL   string
	apiSecret string
	dataset   string
	http      *http.Client
}

// NewClient builds a Client from config. The HTTP timeout applies to every
// request; a timed-out request is classified as transient.
func NewClient(cfg config.CubeConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiSecret: cfg.APISecret,
		dataset:   cfg.Dataset,
		http:      &http.Client{Timeout: timeout},
	}
}

// signToken mints the short auth token the semantic layer expects: an HS256
// JWT whose claims carry the target dataset.
func (c *Client) signToken() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"dataset": c.dataset,
	})
	return token.SignedString([]byte(c.apiSecret))
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.signToken()
	if err != nil {
		return fmt.Errorf("signing cube token: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchMeta fetches cube model metadata from the /meta endpoint.
func (c *Client) FetchMeta(ctx context.Context) (*Meta, error) {
	var meta Meta
	if err := c.do(ctx, http.MethodGet, "/cubejs-api/v1/meta", nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Load executes a query against the /load endpoint and returns the result
// rows.
func (c *Client) Load(ctx context.Context, query Query) ([]map[string]any, error) {
	body := map[string]any{"query": query}
	var out struct {
		Data []map[string]any `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/cubejs-api/v1/load", body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
