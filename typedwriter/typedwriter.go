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

// Package typedwriter layers one-shot, typed write operations over a
// writer.ResponseWriter. Every typed writer drives the underlying writer
// through exactly one Commit and one Complete; a second call fails with
// ErrAlreadyWritten instead of silently clobbering the first response.
package typedwriter

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deep-rent/opx/codec"
	"github.com/deep-rent/opx/writer"
)

// ErrAlreadyWritten is returned by VoidWriter.Write and BodyWriter[T].Write
// when called a second time on the same underlying writer.
var ErrAlreadyWritten = errors.New("typedwriter: writer already written")

// VoidWriter commits a status with no body, for operations whose output
// carries no payload (e.g. 204 No Content, or a typed output with only
// header fields).
type VoidWriter struct {
	w      writer.ResponseWriter
	status int
	done   bool
}

// NewVoidWriter wraps w, defaulting to 204 No Content if Write is called
// without a status having been set via SetStatus.
func NewVoidWriter(w writer.ResponseWriter) *VoidWriter {
	return &VoidWriter{w: w, status: http.StatusNoContent}
}

// SetStatus overrides the status used on Write. A no-op once Write has run.
func (v *VoidWriter) SetStatus(status int) {
	if v.done {
		return
	}
	v.status = status
}

// Write commits the writer with no body and completes it. Returns
// ErrAlreadyWritten if called more than once.
func (v *VoidWriter) Write() error {
	if v.done {
		return ErrAlreadyWritten
	}
	v.done = true
	v.w.SetStatus(v.status)
	if err := v.w.Commit(); err != nil {
		return err
	}
	return v.w.Complete()
}

// BodyWriter serializes a value of type T through a codec.Codec and writes
// it as the committed response body, then completes the writer. It is the
// typed counterpart of VoidWriter for operations that do produce output.
//
// If out is non-nil, Write also extracts out's additional-headers
// projection of the value and applies it to the writer before commit, with
// Content-Type excluded (the framework's own Content-Type, set from ct,
// always wins).
type BodyWriter[T any] struct {
	w      writer.ResponseWriter
	c      codec.Codec
	out    codec.Output[T]
	status int
	ct     string
	done   bool
}

// NewBodyWriter wraps w, encoding written values with c (a nil c defaults
// to codec.JSON) and advertising contentType on commit. out, if non-nil,
// additionally projects each written value onto a header set applied prior
// to commit; a nil out writes only a body, same as before out existed.
func NewBodyWriter[T any](w writer.ResponseWriter, c codec.Codec, out codec.Output[T], contentType string) *BodyWriter[T] {
	if c == nil {
		c = codec.JSON
	}
	if contentType == "" {
		contentType = "application/json"
	}
	return &BodyWriter[T]{w: w, c: c, out: out, status: http.StatusOK, ct: contentType}
}

// SetStatus overrides the status used on Write. A no-op once Write has run.
func (b *BodyWriter[T]) SetStatus(status int) {
	if b.done {
		return
	}
	b.status = status
}

// Write encodes v, applies v's additional-headers projection (if out is
// set), commits the writer with the configured status and content type,
// appends the encoded bytes as the single body part, and completes the
// writer. Returns ErrAlreadyWritten if called more than once; any encoding
// failure is returned unwrapped so the caller (normally dispatch.Dispatcher)
// can coerce it to an InternalError.
func (b *BodyWriter[T]) Write(v T) error {
	if b.done {
		return ErrAlreadyWritten
	}
	b.done = true

	body, headers, err := b.encode(v)
	if err != nil {
		return err
	}

	if len(headers) > 0 {
		b.w.UpdateHeaders(func(h http.Header) {
			for k, vs := range headers {
				if strings.EqualFold(k, "Content-Type") {
					continue
				}
				for _, v := range vs {
					h.Add(k, v)
				}
			}
		})
	}

	b.w.SetStatus(b.status)
	b.w.SetContentType(b.ct)
	b.w.SetContentLength(int64(len(body)))
	if err := b.w.Commit(); err != nil {
		return err
	}
	if err := b.w.AppendBodyPart(body); err != nil {
		return err
	}
	return b.w.Complete()
}

// encode produces v's body and additional-headers projections, falling
// back to a bare codec encode (no headers) when out is nil.
func (b *BodyWriter[T]) encode(v T) ([]byte, http.Header, error) {
	if b.out != nil {
		return b.out(v)
	}
	body, err := b.c.Encode(v)
	return body, nil, err
}
