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

// Package pipeline assembles one operation's middleware stack and handler
// into a router.Entry: outer ∘ transform ∘ inner ∘ handler, statically typed
// end-to-end via generics.
//
// # Usage
//
//	type GreetIn struct {
//		Name string `in:"path,name"`
//	}
//	type GreetOut struct {
//		Message string `json:"message"`
//	}
//
//	input, _ := codec.NewInput[GreetIn](codec.JSON)
//	b := pipeline.NewBuilder[request.Head, writer.ResponseWriter, *router.Context]().
//		ID("Greet")
//	typed := pipeline.WithTransform(b, pipeline.Decode(input, 1<<20, nil))
//	entry := pipeline.Handle(typed, dispatch.Sync(func(in GreetIn) (GreetOut, error) {
//		return GreetOut{Message: "hi " + in.Name}, nil
//	}))
//	r.Register("GET", "greet/{name}", entry)
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/deep-rent/opx/codec"
	"github.com/deep-rent/opx/dispatch"
	"github.com/deep-rent/opx/middleware"
	"github.com/deep-rent/opx/request"
	"github.com/deep-rent/opx/router"
	"github.com/deep-rent/opx/typedwriter"
	"github.com/deep-rent/opx/writer"
)

// Builder assembles one operation's middleware stack. RI, RW, RC are the
// "raw" shape every registered operation starts from (request.Head,
// writer.ResponseWriter, *router.Context); I, W, C are the shape the
// registered handler ultimately receives, after zero or one WithTransform
// call. O is a phantom carried through for Handle's type inference; Builder
// values returned by NewBuilder, WithTransform, and Inner always have O =
// any, since the real output type is only known once Handle is called.
type Builder[RI, RW, RC, I, W, C, O any] struct {
	outer []middleware.Pipe[RI, RW, RC]
	inner []middleware.Pipe[I, W, C]
	run   func(in RI, w RW, ctx RC, terminal func(I, W, C) error) error

	opID     string
	codec    codec.Codec
	statusOK int
	allow    dispatch.AllowList
	logger   *slog.Logger
}

// NewBuilder starts a Builder whose handler shape is still the raw (RI, RW,
// RC) triple, ready for Outer stages and at most one WithTransform call.
func NewBuilder[RI, RW, RC any]() *Builder[RI, RW, RC, RI, RW, RC, any] {
	return &Builder[RI, RW, RC, RI, RW, RC, any]{
		run: func(in RI, w RW, ctx RC, terminal func(RI, RW, RC) error) error {
			return terminal(in, w, ctx)
		},
		codec:    codec.JSON,
		statusOK: http.StatusOK,
		logger:   slog.Default(),
	}
}

// ID sets the operation identifier used for logging and the wire error
// taxonomy (InvalidOperation/AllowedDomainError tagging).
func (b *Builder[RI, RW, RC, I, W, C, O]) ID(id string) *Builder[RI, RW, RC, I, W, C, O] {
	b.opID = id
	return b
}

// Codec overrides the wire codec used to encode the handler's output and
// any error body. Defaults to codec.JSON.
func (b *Builder[RI, RW, RC, I, W, C, O]) Codec(c codec.Codec) *Builder[RI, RW, RC, I, W, C, O] {
	if c != nil {
		b.codec = c
	}
	return b
}

// StatusOK overrides the HTTP status written on a successful handler
// return. Defaults to 200.
func (b *Builder[RI, RW, RC, I, W, C, O]) StatusOK(status int) *Builder[RI, RW, RC, I, W, C, O] {
	b.statusOK = status
	return b
}

// Allow sets the ordered allow-list consulted when the handler returns an
// error, mapping recognized domain errors to a status other than 500.
func (b *Builder[RI, RW, RC, I, W, C, O]) Allow(allow dispatch.AllowList) *Builder[RI, RW, RC, I, W, C, O] {
	b.allow = allow
	return b
}

// Logger overrides the logger used for diagnostics. A nil value is ignored.
func (b *Builder[RI, RW, RC, I, W, C, O]) Logger(logger *slog.Logger) *Builder[RI, RW, RC, I, W, C, O] {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Outer appends a Pipe run at the raw (RI, RW, RC) shape, before any
// WithTransform stage. The first Outer call is outermost.
func (b *Builder[RI, RW, RC, I, W, C, O]) Outer(p middleware.Pipe[RI, RW, RC]) *Builder[RI, RW, RC, I, W, C, O] {
	b.outer = append(b.outer, p)
	return b
}

// Inner appends a Pipe run at the (I, W, C) shape, after any WithTransform
// stage and before the handler.
func (b *Builder[RI, RW, RC, I, W, C, O]) Inner(p middleware.Pipe[I, W, C]) *Builder[RI, RW, RC, I, W, C, O] {
	b.inner = append(b.inner, p)
	return b
}

// WithTransform splices a shape-changing stage between a Builder's Outer
// stages and its Inner stages. Being a free function rather than a method
// lets it introduce the new (I, W, C) type parameters the returned Builder
// carries from here on; a Transform whose declared input shape doesn't
// match b's (RI, RW, RC), or whose output shape doesn't match the Inner
// pipes later attached to it, fails to compile. Only one WithTransform call
// is possible per Builder, since it only accepts a Builder still at its raw
// shape.
func WithTransform[RI, RW, RC, I, W, C any](
	b *Builder[RI, RW, RC, RI, RW, RC, any],
	t middleware.Transform[RI, RW, RC, I, W, C],
) *Builder[RI, RW, RC, I, W, C, any] {
	prevRun := b.run
	return &Builder[RI, RW, RC, I, W, C, any]{
		outer: b.outer,
		run: func(in RI, w RW, ctx RC, terminal func(I, W, C) error) error {
			return prevRun(in, w, ctx, func(in2 RI, w2 RW, ctx2 RC) error {
				return t(in2, w2, ctx2, terminal)
			})
		},
		opID:     b.opID,
		codec:    b.codec,
		statusOK: b.statusOK,
		allow:    b.allow,
		logger:   b.logger,
	}
}

// Decode builds the Transform most operations use: it collects the request
// body (via router.Context.Body, populated by router.Router once the route
// is resolved) and decodes a typed I out of it using input, before handing
// control to the Inner chain and the handler. A decode failure is written
// directly as a ValidationError/InternalError response and short-circuits
// the chain (the handler and any Inner pipe never run).
func Decode[I any](
	input codec.Input[I], maxBodySize int64, c codec.Codec,
) middleware.Transform[request.Head, writer.ResponseWriter, *router.Context, I, writer.ResponseWriter, *router.Context] {
	if c == nil {
		c = codec.JSON
	}
	return func(
		h request.Head, w writer.ResponseWriter, rc *router.Context,
		next func(I, writer.ResponseWriter, *router.Context) error,
	) error {
		var body []byte
		if rc.Body != nil {
			buf, err := rc.Body.Collect(maxBodySize)
			if err != nil {
				status, tag := http.StatusInternalServerError, "InternalError"
				if errors.Is(err, request.ErrBodyTooLarge) {
					status, tag = http.StatusBadRequest, "ValidationError"
				}
				_ = dispatch.RespondError(w, c, status, tag, err.Error())
				return nil
			}
			body = buf
		}
		in, err := input(codec.Source{Head: h, Shape: rc.PathShape, Body: body})
		if err != nil {
			_ = dispatch.RespondError(w, c, http.StatusBadRequest, "ValidationError", err.Error())
			return nil
		}
		return next(in, w, rc)
	}
}

type entry struct {
	id    string
	serve func(ctx context.Context, h request.Head, body io.Reader, w writer.ResponseWriter)
}

func (e *entry) OperationID() string { return e.id }

func (e *entry) ServeRaw(ctx context.Context, h request.Head, body io.Reader, w writer.ResponseWriter) {
	e.serve(ctx, h, body, w)
}

// Handle compiles b into a router.Entry invoking h for every matched
// request. Being a free function, it introduces O independently of b's
// phantom O parameter, so pipeline.Handle(b, h) only compiles when h's
// declared output type agrees with whatever BodyWriter the call site's
// usage expects. O's additional-headers projection (fields tagged
// `out:"header[,key]"`) is compiled once here via codec.NewOutput and
// applied to the writer ahead of every commit.
func Handle[I, C, O any](
	b *Builder[request.Head, writer.ResponseWriter, *router.Context, I, writer.ResponseWriter, C, any],
	h dispatch.Handler[I, O],
) router.Entry {
	runInner := middleware.Chain(b.inner...)
	c := b.codec
	statusOK := b.statusOK
	allow := b.allow
	logger := b.logger
	opID := b.opID

	output, err := codec.NewOutput[O](c)
	if err != nil {
		panic(fmt.Errorf("pipeline: compiling output for operation %q: %w", opID, err))
	}

	return &entry{
		id: opID,
		serve: func(ctx context.Context, head request.Head, body io.Reader, w writer.ResponseWriter) {
			rc := router.FromContext(ctx)

			err := b.run(head, w, rc, func(in I, w2 writer.ResponseWriter, ctx2 C) error {
				return runInner(in, w2, ctx2, func(in2 I, w3 writer.ResponseWriter, _ C) error {
					out, herr := h(ctx, in2)
					if herr != nil {
						status, ok := allow.Lookup(herr)
						if !ok {
							logger.Error("pipeline: unhandled handler error", "operation", opID, "err", herr)
							_ = dispatch.RespondError(w3, c, http.StatusInternalServerError, "InternalError", "")
							return nil
						}
						tag := "AllowedDomainError"
						if te, ok := herr.(dispatch.Error); ok {
							tag = te.Tag()
						}
						_ = dispatch.RespondError(w3, c, status, tag, herr.Error())
						return nil
					}

					bw := typedwriter.NewBodyWriter[O](w3, c, output, "")
					bw.SetStatus(statusOK)
					if werr := bw.Write(out); werr != nil {
						logger.Error("pipeline: output encoding failed", "operation", opID, "err", werr)
						_ = dispatch.RespondError(w3, c, http.StatusInternalServerError, "InternalError", "")
					}
					return nil
				})
			})
			if err != nil {
				logger.Error("pipeline: chain error", "operation", opID, "err", err)
			}

			switch w.State() {
			case writer.NotCommitted:
				logger.Error("pipeline: handler returned without writing a response", "operation", opID)
				_ = dispatch.RespondError(w, c, http.StatusInternalServerError, "InternalError", "")
				_ = w.Complete()
			case writer.Committed:
				_ = w.Complete()
			}
		},
	}
}
