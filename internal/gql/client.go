package gql

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"time"

	"github.com/dropsminer/core/internal/backoff"
	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/httpclient"
	"github.com/dropsminer/core/internal/logger"
	"github.com/dropsminer/core/internal/metrics"
	"github.com/dropsminer/core/internal/ratelimit"
)

const endpoint = "https://gql.twitch.tv/gql"

// HeaderSource supplies the auth-dependent headers (Client-Id,
// Authorization, etc.) a request needs, and is validated before each
// attempt so an expired token is refreshed transparently. It is satisfied
// by internal/auth.State.
type HeaderSource interface {
	ValidateAndGQLHeaders(ctx context.Context) (http.Header, error)
}

// Client issues persisted-query requests against the GraphQL endpoint.
// NOTE: GQL is volatile and breaks everything if rate limited — the
// limiter defaults (capacity=5, window=1s, see ratelimit.NewGQLGate) must
// not be loosened without evidence.
type Client struct {
	session  *httpclient.Session
	headers  HeaderSource
	limiter  *ratelimit.Gate
	endpoint string
}

// NewClient builds a Client with the platform-mandated rate limiter.
func NewClient(session *httpclient.Session, headers HeaderSource) *Client {
	return &Client{session: session, headers: headers, limiter: ratelimit.NewGQLGate(), endpoint: endpoint}
}

// Response is a single GQL sub-response, decoded generically since each
// operation's data shape differs.
type Response struct {
	Data       map[string]any   `json:"data"`
	Errors     []ResponseError  `json:"errors,omitempty"`
	Error      string           `json:"error,omitempty"`
	Message    string           `json:"message,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`
}

// ResponseError is one entry of a sub-response's "errors" array.
type ResponseError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Request executes one or more persisted-query operations and returns
// their responses in the same order, applying the platform's documented
// error-class retry policy (spec §4.4):
//
//   - "service error" / "PersistedQueryNotFound": retried once, delay
//     floored at 5s.
//   - "service timeout" / "service unavailable" / "context deadline
//     exceeded": retried with backoff, uncapped retry count.
//   - "server error" with a path: the addressed value in Data is
//     nulled out and the response returned as-is.
//   - any other errors[] entry, or a top-level "error": fails immediately.
func (c *Client) Request(ctx context.Context, ops ...Operation) ([]Response, error) {
	b := backoff.New(backoff.WithMaximum(60))
	singleRetry := true

	for {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, dmerrors.Wrap(err, "gql: rate limiter")
		}
		responses, err := c.send(ctx, ops)
		c.limiter.Release()
		if err != nil {
			return nil, err
		}

		forceRetry := false
		delay := b.Next()
		for i := range responses {
			resp := &responses[i]
			if resp.Error != "" {
				return nil, dmerrors.Wrapf(dmerrors.ErrGQL, "%s: %s", resp.Error, resp.Message)
			}
			if len(resp.Errors) == 0 {
				continue
			}

			handled := false
			for _, e := range resp.Errors {
				switch {
				case singleRetry && (e.Message == "service error" || e.Message == "PersistedQueryNotFound"):
					logger.Errorw("retrying gql operation after transient error",
						"message", e.Message, "operation", operationNameAt(ops, i))
					metrics.RecordGQLRetry(operationNameAt(ops, i), "service_error")
					singleRetry = false
					if delay < 5 {
						delay = 5
					}
					forceRetry = true
					handled = true
				case e.Message == "server error":
					nullPath(resp.Data, e.Path)
					handled = true
				case e.Message == "service timeout" || e.Message == "service unavailable" ||
					e.Message == "context deadline exceeded":
					metrics.RecordGQLRetry(operationNameAt(ops, i), "timeout")
					forceRetry = true
					handled = true
				}
				if handled {
					break
				}
			}
			if !handled {
				return nil, dmerrors.Wrapf(dmerrors.ErrGQL, "unhandled gql error: %v", resp.Errors)
			}
		}

		if !forceRetry {
			return responses, nil
		}

		select {
		case <-ctx.Done():
			return nil, dmerrors.Wrap(dmerrors.ErrExitRequested, "gql request cancelled during backoff")
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
	}
}

func operationNameAt(ops []Operation, i int) string {
	if i < 0 || i >= len(ops) {
		return ""
	}
	return ops[i].Name
}

func (c *Client) send(ctx context.Context, ops []Operation) ([]Response, error) {
	headers, err := c.headers.ValidateAndGQLHeaders(ctx)
	if err != nil {
		return nil, dmerrors.Wrap(err, "gql: validate auth before request")
	}

	var body []byte
	if len(ops) == 1 {
		body, err = json.Marshal(ops[0].wire())
	} else {
		wires := make([]wirePayload, len(ops))
		for i, op := range ops {
			wires[i] = op.wire()
		}
		body, err = json.Marshal(wires)
	}
	if err != nil {
		return nil, dmerrors.Wrap(err, "marshal gql request")
	}

	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/json")

	resp, err := c.session.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     c.endpoint,
		Headers: headers,
		Body:    body,
	}, nil)
	if err != nil {
		return nil, dmerrors.Wrap(err, "gql http request")
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, dmerrors.Wrap(err, "read gql response")
	}

	return decodeResponses(buf.Bytes())
}

func decodeResponses(data []byte) ([]Response, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Response
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, dmerrors.Wrap(err, "decode gql batch response")
		}
		return list, nil
	}
	var single Response
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, dmerrors.Wrap(err, "decode gql response")
	}
	return []Response{single}, nil
}

// nullPath walks path (all but the last segment) into data and sets the
// final key to nil, tolerating a missing intermediate by doing nothing —
// a malformed path should not crash the retry loop.
func nullPath(data map[string]any, path []any) {
	if len(path) == 0 {
		return
	}
	cur := data
	for _, seg := range path[:len(path)-1] {
		key, ok := seg.(string)
		if !ok {
			return
		}
		next, ok := cur[key].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	if key, ok := path[len(path)-1].(string); ok {
		cur[key] = nil
	}
}

// sameType reports whether a and b decoded to the same concrete JSON type
// (map[string]any, []any, string, float64, bool, or nil), mirroring the
// original merge_data's `isinstance(vp, type(vs)) and isinstance(vs,
// type(vp))` check. nil only matches nil.
func sameType(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}

// MergeData recursively merges two decoded JSON objects, preferring
// primary's value at any key present in both, and requiring the two
// values to share a concrete type at every shared key (spec.md §4.4,
// §8: "requiring matching types at corresponding keys, and failing
// otherwise").
func MergeData(primary, secondary map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(primary)+len(secondary))
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	for k := range primary {
		seen[k] = struct{}{}
	}
	for k := range secondary {
		seen[k] = struct{}{}
	}

	for key := range seen {
		vp, inPrimary := primary[key]
		vs, inSecondary := secondary[key]
		switch {
		case inPrimary && inSecondary:
			mp, pIsMap := vp.(map[string]any)
			ms, sIsMap := vs.(map[string]any)
			if pIsMap != sIsMap {
				return nil, dmerrors.Newf("gql: inconsistent merge data at key %q", key)
			}
			if pIsMap {
				sub, err := MergeData(mp, ms)
				if err != nil {
					return nil, err
				}
				merged[key] = sub
			} else if !sameType(vp, vs) {
				return nil, dmerrors.Newf("gql: inconsistent merge data at key %q", key)
			} else {
				merged[key] = vp
			}
		case inPrimary:
			merged[key] = vp
		default:
			merged[key] = vs
		}
	}
	return merged, nil
}
