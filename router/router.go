// Copyright (c) 2025-present deep.rent GmbH (https://deep.rent)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package router matches an incoming request against a (method, path
// template) table and dispatches to the opaque router.Entry registered for
// it, or responds with InvalidOperation when nothing matches.
//
// The Router itself never sees a registered operation's typed input, writer,
// or context shapes: pipeline.Builder compiles those away into an Entry, and
// the Router only ever calls Entry.ServeRaw with the three values every
// request carries regardless of which operation handles it.
package router

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/deep-rent/opx/clock"
	"github.com/deep-rent/opx/codec"
	"github.com/deep-rent/opx/middleware"
	"github.com/deep-rent/opx/request"
	"github.com/deep-rent/opx/uuid"
	"github.com/deep-rent/opx/writer"
)

// Context is the per-request state every outer middleware and every
// registered operation can observe. OperationID and PathShape are populated
// once the route lookup succeeds, just before Entry.ServeRaw is called; a
// Middleware that runs code after calling next (e.g. Log) sees the final
// values.
type Context struct {
	OperationID string
	PathShape   request.PathShape
	Logger      *slog.Logger
	Head        request.Head
	RequestID   string
	// Body is the lazy request body stream, set once the route has been
	// resolved (nil while outer middleware runs ahead of routing). A
	// middleware.Transform that needs to decode the body (see
	// pipeline.Decode) reads it through Body.Collect.
	Body *request.Body
}

type ctxKey struct{}

// FromContext retrieves the *Context stored by the Router for the current
// request. It returns nil if ctx was not produced by a Router.
func FromContext(ctx context.Context) *Context {
	rc, _ := ctx.Value(ctxKey{}).(*Context)
	return rc
}

func withContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// Middleware is the concrete outer-middleware shape used by Router: a
// middleware.Pipe threading the request head, the response writer, and the
// router Context through the outer stack, before routing is resolved.
type Middleware = middleware.Pipe[request.Head, writer.ResponseWriter, *Context]

// Entry is what pipeline.Builder.Handle produces: an operation compiled down
// to the one call shape the Router needs, opaque to its typed input, writer,
// and context.
type Entry interface {
	// OperationID identifies the operation for logging and the
	// InvalidOperation/allow-list error taxonomy.
	OperationID() string
	// ServeRaw runs the operation for one request. ctx carries the
	// Context set by the Router (retrievable via FromContext); the entry
	// is responsible for driving w through Commit/Complete exactly once.
	ServeRaw(ctx context.Context, h request.Head, body io.Reader, w writer.ResponseWriter)
}

type registeredRoute struct {
	method   string
	template string
	entry    Entry
}

type lookupResult int

const (
	lookupMatched lookupResult = iota
	lookupUnknownPath
	lookupWrongMethod
)

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for routing diagnostics and stored on each
// request's Context.Logger. Recover and Log take their own logger argument.
// A nil value is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOuter appends Middleware stages run, in order, around every route
// before it is resolved: the first given is outermost.
func WithOuter(mws ...Middleware) Option {
	return func(r *Router) {
		r.outer = append(r.outer, mws...)
	}
}

// WithClock overrides the clock used to timestamp each request's writer.
// Defaults to clock.SystemClock().
func WithClock(now clock.Clock) Option {
	return func(r *Router) {
		if now != nil {
			r.clock = now
		}
	}
}

// WithErrorCodec overrides the codec.Codec used to encode the InvalidOperation
// body written when no route matches. Defaults to codec.JSON.
func WithErrorCodec(c codec.Codec) Option {
	return func(r *Router) {
		if c != nil {
			r.codec = c
		}
	}
}

// Router holds the (method, path template) -> Entry table and the outer
// middleware stack run before a route is resolved.
type Router struct {
	routes []registeredRoute
	outer  []Middleware
	logger *slog.Logger
	clock  clock.Clock
	codec  codec.Codec
}

// New creates a Router with the given options.
func New(opts ...Option) *Router {
	r := &Router{
		logger: slog.Default(),
		clock:  clock.SystemClock(),
		codec:  codec.JSON,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds an Entry to a (method, path template) pair. Path templates
// use "{name}" segments exactly as request.MatchPath describes; literal
// segments are matched case-insensitively.
func (r *Router) Register(method, template string, entry Entry) {
	r.routes = append(r.routes, registeredRoute{method: method, template: template, entry: entry})
}

// Lookup resolves method and path against the registered routes. It first
// looks for an exact (method, path) match; if the path matches some route's
// template under a different method, it reports lookupWrongMethod instead of
// lookupUnknownPath, so the two can be logged (though not responded to)
// differently.
func (r *Router) Lookup(method, path string) (Entry, request.PathShape, lookupResult) {
	pathMatchedAnyMethod := false
	for _, route := range r.routes {
		shape, err := request.MatchPath(route.template, path)
		if err != nil {
			continue
		}
		pathMatchedAnyMethod = true
		if route.method == method {
			return route.entry, shape, lookupMatched
		}
	}
	if pathMatchedAnyMethod {
		return nil, request.PathShape{}, lookupWrongMethod
	}
	return nil, request.PathShape{}, lookupUnknownPath
}

// ServeHTTP implements http.Handler, resolving a route and invoking its
// Entry within the configured outer middleware stack.
func (r *Router) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	head := request.FromHTTP(req)
	w := writer.New(res, r.clock)
	rc := &Context{Head: head, Logger: r.logger}

	terminal := func(_ request.Head, w writer.ResponseWriter, rc *Context) error {
		entry, shape, result := r.Lookup(head.Method, head.Path())
		switch result {
		case lookupUnknownPath:
			r.logger.Debug("router: no route for path", "path", head.Path())
			rc.OperationID = "InvalidOperation"
			return writeInvalidOperation(w, r.codec)
		case lookupWrongMethod:
			r.logger.Debug("router: method mismatch", "method", head.Method, "path", head.Path())
			rc.OperationID = "InvalidOperation"
			return writeInvalidOperation(w, r.codec)
		}

		rc.OperationID = entry.OperationID()
		rc.PathShape = shape
		rc.Body = request.NewBody(req.Body)
		ctx := withContext(req.Context(), rc)
		entry.ServeRaw(ctx, head, req.Body, w)
		return nil
	}

	chain := middleware.Chain(r.outer...)
	if err := chain(head, w, rc, terminal); err != nil {
		r.logger.Error("router: outer middleware chain failed", "err", err)
	}
}

func writeInvalidOperation(w writer.ResponseWriter, c codec.Codec) error {
	body, err := codec.EncodeError(c, "InvalidOperation", "")
	if err != nil {
		return err
	}
	w.SetStatus(http.StatusBadRequest)
	w.SetContentType("application/json")
	w.SetContentLength(int64(len(body)))
	if err := w.Commit(); err != nil {
		return err
	}
	if err := w.AppendBodyPart(body); err != nil {
		return err
	}
	return w.Complete()
}

// Recover builds a Middleware that catches panics from inner stages
// (including a registered operation), logs them with a stack trace, and
// responds with InternalError 500 if the writer has not yet committed. For
// maximum effectiveness it should be the first (outermost) entry passed to
// WithOuter.
func Recover(logger *slog.Logger) Middleware {
	return func(h request.Head, w writer.ResponseWriter, rc *Context, next func(request.Head, writer.ResponseWriter, *Context) error) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(
					"router: panic recovered",
					"method", h.Method,
					"path", h.Path(),
					"error", rec,
					"stack", string(debug.Stack()),
				)
				if w.State() == writer.NotCommitted {
					body, encErr := codec.EncodeError(codec.JSON, "InternalError", "")
					if encErr == nil {
						w.SetStatus(http.StatusInternalServerError)
						w.SetContentType("application/json")
						w.SetContentLength(int64(len(body)))
						if commitErr := w.Commit(); commitErr == nil {
							_ = w.AppendBodyPart(body)
							_ = w.Complete()
						}
					}
				}
			}
		}()
		return next(h, w, rc)
	}
}

// RequestID builds a Middleware that stamps every request with a monotonic
// UUIDv7, storing it on Context.RequestID and echoing it via the
// X-Request-ID response header.
func RequestID() Middleware {
	return func(h request.Head, w writer.ResponseWriter, rc *Context, next func(request.Head, writer.ResponseWriter, *Context) error) error {
		id := uuid.New().String()
		rc.RequestID = id
		w.UpdateHeaders(func(hdr http.Header) { hdr.Set("X-Request-ID", id) })
		return next(h, w, rc)
	}
}

// Log builds a Middleware that logs a summary of each request at debug level
// after it has been handled, reading the final status directly off the
// writer.ResponseWriter rather than wrapping http.ResponseWriter a second
// time.
func Log(logger *slog.Logger) Middleware {
	return func(h request.Head, w writer.ResponseWriter, rc *Context, next func(request.Head, writer.ResponseWriter, *Context) error) error {
		start := time.Now()
		err := next(h, w, rc)
		logger.Debug(
			"router: request handled",
			"id", rc.RequestID,
			"operation", rc.OperationID,
			"method", h.Method,
			"path", h.Path(),
			"status", w.Status(),
			"duration", time.Since(start),
		)
		return err
	}
}
