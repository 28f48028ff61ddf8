package firewall

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/raakeshmj/campusguard/internal/auth"
)

// Request is the firewall's view of one inbound HTTP request. It is built
// once per request and owned by the goroutine serving it.
type Request struct {
	Method      string
	Path        string
	RawQuery    string
	URI         string
	Query       url.Values
	Header      http.Header
	Host        string
	IP          string
	TLS         bool
	ContentType string
	Body        []byte
	BodySize    int64
	Identity    *auth.Identity
	ReceivedAt  time.Time

	inputs []Input
	// per-request values layers hand to their own decorators
	notes map[string]string
}

// Input is one user-supplied key/value pair from the path, query or body.
type Input struct {
	Source string
	Key    string
	Value  string
}

// NewRequest captures r. body is the already-buffered request body; the
// caller restores r.Body.
func NewRequest(r *http.Request, body []byte) *Request {
	size := r.ContentLength
	if size < int64(len(body)) {
		size = int64(len(body))
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return &Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		RawQuery:    r.URL.RawQuery,
		URI:         r.URL.RequestURI(),
		Query:       r.URL.Query(),
		Header:      r.Header,
		Host:        r.Host,
		IP:          ClientIP(r),
		TLS:         r.TLS != nil,
		ContentType: ct,
		Body:        body,
		BodySize:    size,
		Identity:    auth.FromContext(r.Context()),
		ReceivedAt:  time.Now(),
	}
}

type clientIPKey struct{}

// WithClientIP records the resolved client address for handlers further
// down the chain.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address resolved by the firewall middleware, or the
// peer address when the request never passed through it.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return peerHost(r.RemoteAddr)
}

// ResolveClientIP trusts forwarding headers only when the peer is one of
// the trusted proxies. X-Forwarded-For is walked right to left and the
// first hop that is not itself a trusted proxy is the client.
func ResolveClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := peerHost(r.RemoteAddr)
	if !isTrusted(trusted, peer) {
		return peer
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			// a malformed hop ends the chain we can vouch for
			return peer
		}
		if !isTrusted(trusted, hop) {
			return hop
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		if _, err := netip.ParseAddr(ip); err == nil {
			return ip
		}
	}
	return peer
}

func isTrusted(trusted []netip.Prefix, ip string) bool {
	if len(trusted) == 0 {
		return false
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return containsAddr(trusted, a.Unmap())
}

func peerHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Secure reports TLS at this hop or at a terminating proxy.
func (r *Request) Secure() bool {
	return r.TLS || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func (r *Request) StateChanging() bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (r *Request) note(key, value string) {
	if r.notes == nil {
		r.notes = make(map[string]string)
	}
	r.notes[key] = value
}

func (r *Request) noted(key string) (string, bool) {
	v, ok := r.notes[key]
	return v, ok
}

// Inputs flattens the decoded path, query values and body fields. JSON,
// urlencoded and the text parts of multipart bodies are walked; any other
// body is included raw.
func (r *Request) Inputs() []Input {
	if r.inputs != nil {
		return r.inputs
	}
	in := []Input{}
	if p, err := url.PathUnescape(r.Path); err == nil {
		in = append(in, Input{Source: "path", Value: p})
	} else {
		in = append(in, Input{Source: "path", Value: r.Path})
	}
	in = appendValues(in, "query", r.Query)

	if len(r.Body) > 0 {
		switch {
		case r.ContentType == "application/json" || strings.HasSuffix(r.ContentType, "+json"):
			var v any
			if err := json.Unmarshal(r.Body, &v); err == nil {
				in = flattenJSON(in, "", v)
			} else {
				in = append(in, Input{Source: "body", Value: string(r.Body)})
			}
		case r.ContentType == "application/x-www-form-urlencoded":
			if form, err := url.ParseQuery(string(r.Body)); err == nil {
				in = appendValues(in, "body", form)
			} else {
				in = append(in, Input{Source: "body", Value: string(r.Body)})
			}
		case strings.HasPrefix(r.ContentType, "multipart/"):
			in = r.appendMultipart(in)
		default:
			in = append(in, Input{Source: "body", Value: string(r.Body)})
		}
	}
	r.inputs = in
	return in
}

// appendMultipart adds every non-file part. File parts are left to the
// upload layer. A body that stops parsing is also inspected raw.
func (r *Request) appendMultipart(in []Input) []Input {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return append(in, Input{Source: "body", Value: string(r.Body)})
	}
	mr := multipart.NewReader(bytes.NewReader(r.Body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return in
		}
		if err != nil {
			return append(in, Input{Source: "body", Value: string(r.Body)})
		}
		if part.FileName() != "" {
			part.Close()
			continue
		}
		b, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return append(in, Input{Source: "body", Value: string(r.Body)})
		}
		in = append(in, Input{Source: "body", Key: part.FormName(), Value: string(b)})
	}
}

func appendValues(in []Input, source string, vals url.Values) []Input {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range vals[k] {
			in = append(in, Input{Source: source, Key: k, Value: v})
		}
	}
	return in
}

func flattenJSON(in []Input, key string, v any) []Input {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			in = flattenJSON(in, k, child)
		}
		if len(t) == 0 && key != "" {
			in = append(in, Input{Source: "body", Key: key})
		}
	case []any:
		for _, child := range t {
			in = flattenJSON(in, key, child)
		}
	case string:
		in = append(in, Input{Source: "body", Key: key, Value: t})
	case nil:
		in = append(in, Input{Source: "body", Key: key})
	default:
		b, _ := json.Marshal(t)
		in = append(in, Input{Source: "body", Key: key, Value: string(b)})
	}
	return in
}
