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

// Package dispatch runs one operation's Routing → Decoding → Handling →
// Emitting → Done algorithm: it collects and decodes the typed input,
// invokes the registered handler, maps a thrown error through an allow-list,
// and drives the response writer to completion exactly once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/deep-rent/opx/codec"
	"github.com/deep-rent/opx/request"
	"github.com/deep-rent/opx/typedwriter"
	"github.com/deep-rent/opx/writer"
)

// Void is the output type for operations that produce no body, dispatched
// via DispatchVoid rather than DispatchValue.
type Void struct{}

// Error is implemented by domain errors that want to control their JSON
// "__type" tag on the wire. A thrown error that doesn't implement it is
// tagged "AllowedDomainError" when matched by an AllowList, or
// "InternalError" otherwise.
type Error interface {
	error
	Tag() string
}

// Handler is a computational operation: given a typed input, it returns a
// typed output or an error. Sync adapts a function with this exact shape;
// handlers that need direct writer access use HandlerW instead.
type Handler[I, O any] func(ctx context.Context, in I) (O, error)

// Sync adapts a pure function into a Handler, for operations that perform
// no I/O beyond what the dispatcher already does.
func Sync[I, O any](fn func(in I) (O, error)) Handler[I, O] {
	return func(_ context.Context, in I) (O, error) { return fn(in) }
}

// HandlerW is invoked with direct access to the typed BodyWriter, for
// operations that need to set additional headers or perform I/O before
// writing their output (e.g. a reverse-proxy operation).
type HandlerW[I, O any] func(ctx context.Context, in I, w *typedwriter.BodyWriter[O]) error

// VoidHandler is a computational operation with no output value.
type VoidHandler[I any] func(ctx context.Context, in I) error

// AllowedError pairs a predicate over thrown errors with the HTTP status to
// use when it matches.
type AllowedError struct {
	Predicate func(error) bool
	Status    int
}

// AllowList is consulted in declaration order; the first matching predicate
// wins. A handler error matching none of it is reported as InternalError
// 500.
type AllowList []AllowedError

// Lookup returns the status configured for the first AllowedError whose
// Predicate matches err.
func (a AllowList) Lookup(err error) (int, bool) {
	for _, e := range a {
		if e.Predicate != nil && e.Predicate(err) {
			return e.Status, true
		}
	}
	return 0, false
}

// RespondError writes a framework error body ({"__type": tag, "Reason":
// reason}) if w has not yet committed. It is exported so callers outside a
// Dispatcher's own decode/handle cycle (e.g. pipeline.Handle, which runs
// after decoding has already happened via a middleware.Transform) can
// produce the same wire shape for a handler error.
func RespondError(w writer.ResponseWriter, c codec.Codec, status int, tag, reason string) error {
	if w.State() != writer.NotCommitted {
		return fmt.Errorf("dispatch: cannot write error, writer in state %v", w.State())
	}
	if c == nil {
		c = codec.JSON
	}
	body, err := codec.EncodeError(c, tag, reason)
	if err != nil {
		return err
	}
	w.SetStatus(status)
	w.SetContentType("application/json")
	w.SetContentLength(int64(len(body)))
	if err := w.Commit(); err != nil {
		return err
	}
	return w.AppendBodyPart(body)
}

// Dispatcher holds the configuration for one registered operation: its
// input decoder, wire codec, body limit, default success status, and error
// allow-list. It is built by pipeline.Builder and not normally constructed
// directly.
type Dispatcher[I, O any] struct {
	OperationID string
	Input       codec.Input[I]
	Output      codec.Output[O]
	Codec       codec.Codec
	MaxBodySize int64
	StatusOK    int
	Allow       AllowList
	Logger      *slog.Logger
}

func (d *Dispatcher[I, O]) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher[I, O]) codec() codec.Codec {
	if d.Codec != nil {
		return d.Codec
	}
	return codec.JSON
}

func (d *Dispatcher[I, O]) statusOK() int {
	if d.StatusOK != 0 {
		return d.StatusOK
	}
	return http.StatusOK
}

// decode collects the body up to MaxBodySize and builds the typed input. On
// failure it writes the appropriate error response itself and returns ok =
// false; the caller must return immediately.
func (d *Dispatcher[I, O]) decode(h request.Head, shape request.PathShape, body io.Reader, w writer.ResponseWriter) (in I, ok bool) {
	buf, err := request.NewBody(io.NopCloser(body)).Collect(d.MaxBodySize)
	if err != nil {
		if errors.Is(err, request.ErrBodyTooLarge) {
			d.respond(w, http.StatusBadRequest, "ValidationError", err.Error())
		} else {
			d.logger().Error("dispatch: body stream error", "operation", d.OperationID, "err", err)
			d.respond(w, http.StatusInternalServerError, "InternalError", "")
		}
		return in, false
	}

	decoded, err := d.Input(codec.Source{Head: h, Shape: shape, Body: buf})
	if err != nil {
		var ve *codec.ValidationError
		if errors.As(err, &ve) {
			d.respond(w, http.StatusBadRequest, "ValidationError", err.Error())
		} else {
			d.logger().Error("dispatch: input decode failure", "operation", d.OperationID, "err", err)
			d.respond(w, http.StatusInternalServerError, "InternalError", "")
		}
		return in, false
	}
	return decoded, true
}

// respond writes a framework error body directly. It is the only path that
// writes a response outside of a typedwriter, used for every failure that
// precedes or bypasses the typed output.
func (d *Dispatcher[I, O]) respond(w writer.ResponseWriter, status int, tag, reason string) {
	if err := RespondError(w, d.codec(), status, tag, reason); err != nil {
		d.logger().Error("dispatch: failed to write error response",
			"operation", d.OperationID, "tag", tag, "err", err)
	}
}

// fail maps a handler-thrown error through Allow, falling back to
// InternalError when nothing matches.
func (d *Dispatcher[I, O]) fail(w writer.ResponseWriter, err error) {
	if status, ok := d.Allow.Lookup(err); ok {
		tag := "AllowedDomainError"
		if te, ok := err.(Error); ok {
			tag = te.Tag()
		}
		d.respond(w, status, tag, err.Error())
		return
	}
	d.logger().Error("dispatch: unhandled handler error", "operation", d.OperationID, "err", err)
	d.respond(w, http.StatusInternalServerError, "InternalError", "")
}

// finalize is deferred by every Dispatch* entry point. If the writer never
// committed, it is forced into an InternalError response (a handler
// returned without error and without writing, a programmer mistake); if it
// committed but was never completed, it is completed; a writer that is
// already Completed is left untouched.
func (d *Dispatcher[I, O]) finalize(w writer.ResponseWriter) {
	switch w.State() {
	case writer.NotCommitted:
		d.logger().Error("dispatch: handler returned without writing a response", "operation", d.OperationID)
		d.respond(w, http.StatusInternalServerError, "InternalError", "")
		if err := w.Complete(); err != nil {
			d.logger().Error("dispatch: finalize failed", "err", err)
		}
	case writer.Committed:
		if err := w.Complete(); err != nil {
			d.logger().Error("dispatch: finalize failed", "err", err)
		}
	}
}

// DispatchValue decodes input, invokes handle, and writes its returned value
// through a fresh BodyWriter[O].
func (d *Dispatcher[I, O]) DispatchValue(
	ctx context.Context, h request.Head, shape request.PathShape, body io.Reader,
	w writer.ResponseWriter, handle Handler[I, O],
) {
	defer d.finalize(w)

	in, ok := d.decode(h, shape, body, w)
	if !ok {
		return
	}

	out, err := handle(ctx, in)
	if err != nil {
		d.fail(w, err)
		return
	}

	bw := typedwriter.NewBodyWriter[O](w, d.codec(), d.Output, "")
	bw.SetStatus(d.statusOK())
	if err := bw.Write(out); err != nil {
		d.logger().Error("dispatch: output encoding failed", "operation", d.OperationID, "err", err)
		d.respond(w, http.StatusInternalServerError, "InternalError", "")
	}
}

// DispatchWriter decodes input and invokes handle with direct access to the
// typed writer, for operations that perform their own I/O before writing.
func (d *Dispatcher[I, O]) DispatchWriter(
	ctx context.Context, h request.Head, shape request.PathShape, body io.Reader,
	w writer.ResponseWriter, handle HandlerW[I, O],
) {
	defer d.finalize(w)

	in, ok := d.decode(h, shape, body, w)
	if !ok {
		return
	}

	bw := typedwriter.NewBodyWriter[O](w, d.codec(), d.Output, "")
	bw.SetStatus(d.statusOK())
	if err := handle(ctx, in, bw); err != nil {
		d.fail(w, err)
	}
}

// DispatchVoid decodes input and invokes handle, writing no body on
// success.
func (d *Dispatcher[I, O]) DispatchVoid(
	ctx context.Context, h request.Head, shape request.PathShape, body io.Reader,
	w writer.ResponseWriter, handle VoidHandler[I],
) {
	defer d.finalize(w)

	in, ok := d.decode(h, shape, body, w)
	if !ok {
		return
	}

	if err := handle(ctx, in); err != nil {
		d.fail(w, err)
		return
	}

	vw := typedwriter.NewVoidWriter(w)
	vw.SetStatus(d.statusOK())
	if err := vw.Write(); err != nil {
		d.logger().Error("dispatch: void write failed", "operation", d.OperationID, "err", err)
	}
}
