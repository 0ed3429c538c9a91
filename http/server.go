package http

import (
	"net/http"

	"github.com/google/uuid"

	x402 "x402-go"
)

// RequestIDHeader carries a per-request correlation id a caller can thread
// through its own logs; generated unless the inbound request already set one.
const RequestIDHeader = "X-Request-Id"

// OutputSchemaWarningHeader reports the first output-schema validation
// failure for a route that advertises one, without blocking the response.
const OutputSchemaWarningHeader = "X-Output-Schema-Warning"

// netHTTPAdapter implements x402.HTTPAdapter over a stdlib *http.Request.
type netHTTPAdapter struct {
	r *http.Request
}

func (a netHTTPAdapter) GetHeader(name string) string      { return a.r.Header.Get(name) }
func (a netHTTPAdapter) GetMethod() string                 { return a.r.Method }
func (a netHTTPAdapter) GetPath() string                   { return a.r.URL.Path }
func (a netHTTPAdapter) GetQueryParam(name string) string  { return a.r.URL.Query().Get(name) }
func (a netHTTPAdapter) GetBody() ([]byte, error) {
	if a.r.Body == nil {
		return nil, nil
	}
	defer a.r.Body.Close()
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for {
		n, err := a.r.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

// x402HTTPResourceServer is a stdlib net/http middleware over
// x402.X402ResourceServer, keyed by "METHOD /path" the same way RoutesConfig
// is (spec §4.G). Frameworks with richer routing (gin) use their own thin
// adapter (see http/gin) instead of this one.
type x402HTTPResourceServer struct {
	server *x402.X402ResourceServer
	routes RoutesConfig
}

// Newx402HTTPResourceServer builds a resource server middleware for the
// given routes, constructing the underlying core server from opts.
func Newx402HTTPResourceServer(routes RoutesConfig, opts ...x402.ResourceServerOption) *x402HTTPResourceServer {
	return &x402HTTPResourceServer{
		server: x402.Newx402ResourceServer(opts...),
		routes: routes,
	}
}

// Wrap returns an http.Handler that enforces payment for configured routes
// and delegates everything else (including the handler body for a paid
// route) to next.
func (s *x402HTTPResourceServer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		route, ok := s.routes[key]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := r.Context()
		adapter := netHTTPAdapter{r: r}
		result, err := ProcessRequest(ctx, s.server, route, adapter)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
		if result.StatusCode != 0 {
			for k, v := range result.Headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(result.StatusCode)
			w.Write(result.Body)
			return
		}

		if result.Requirements == nil || result.Requirements.Scheme != "exact" || !route.autoSettle() {
			next.ServeHTTP(w, r)
			return
		}

		// Settlement must be attempted before the handler's status/body are
		// written, since the receipt goes in a header. Buffer the handler's
		// response so headers set below still land.
		buf := &bufferedResponseWriter{ResponseWriter: w, header: make(http.Header)}
		next.ServeHTTP(buf, r)

		if headerValue, err := SettleAndRespond(ctx, s.server, route, result.Payload, result.Requirements); err == nil && headerValue != "" {
			buf.header.Set(PaymentResponseHeader, headerValue)
		}
		if warning, err := validateOutputSchema(result.Requirements.OutputSchema, buf.body); err == nil && warning != "" {
			buf.header.Set(OutputSchemaWarningHeader, warning)
		}
		buf.flush()
	})
}

// bufferedResponseWriter captures a handler's response so the wrapper can
// attach a settlement receipt header after the handler runs but before
// anything reaches the client.
type bufferedResponseWriter struct {
	http.ResponseWriter
	header     http.Header
	body       []byte
	statusCode int
}

func (b *bufferedResponseWriter) Header() http.Header { return b.header }

func (b *bufferedResponseWriter) Write(p []byte) (int, error) {
	b.body = append(b.body, p...)
	return len(p), nil
}

func (b *bufferedResponseWriter) WriteHeader(statusCode int) { b.statusCode = statusCode }

func (b *bufferedResponseWriter) flush() {
	dst := b.ResponseWriter.Header()
	for k, values := range b.header {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	if b.statusCode != 0 {
		b.ResponseWriter.WriteHeader(b.statusCode)
	}
	if len(b.body) > 0 {
		b.ResponseWriter.Write(b.body)
	}
}
