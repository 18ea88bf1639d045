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

// Package request models the inbound side of a single HTTP/1 exchange: the
// request head, its lazy body stream, and the shapes decoded from a path
// template match.
package request

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Head is the portion of a request available before the body is read:
// method, URI, and headers.
type Head struct {
	Method string
	URL    *url.URL
	Header http.Header
}

// FromHTTP extracts a Head from a standard library request.
func FromHTTP(r *http.Request) Head {
	return Head{Method: r.Method, URL: r.URL, Header: r.Header}
}

// Path returns the URL path of the request.
func (h Head) Path() string { return h.URL.Path }

// Query parses and returns the URL query parameters. Malformed pairs are
// silently discarded, matching net/url.Values.ParseQuery. Parameter names
// are matched case-sensitively.
func (h Head) Query() url.Values { return h.URL.Query() }

// Errors returned while collecting a request body.
var (
	// ErrBodyTooLarge is returned by Body.Collect when the stream exceeds
	// the configured limit.
	ErrBodyTooLarge = errors.New("request: body exceeds size limit")
	// ErrBodyStream wraps any I/O error encountered while reading the body.
	ErrBodyStream = errors.New("request: error reading body stream")
)

// Body is a lazy, single-consumer stream of the request's byte chunks. It is
// finite and not restartable: once Collect has been called, subsequent calls
// return the cached result without re-reading the underlying stream.
type Body struct {
	source    io.ReadCloser
	collected []byte
	err       error
	done      bool
}

// NewBody wraps a stream as a Body. A nil source is treated as an empty body.
func NewBody(source io.ReadCloser) *Body {
	return &Body{source: source}
}

// Collect drains the body stream into a contiguous buffer, up to limit bytes
// (a limit <= 0 means unlimited). A stream larger than limit fails with
// ErrBodyTooLarge; any other I/O failure fails with ErrBodyStream. The result
// is cached: calling Collect again returns the same buffer/error without
// touching the stream.
func (b *Body) Collect(limit int64) ([]byte, error) {
	if b.done {
		return b.collected, b.err
	}
	b.done = true

	if b.source == nil {
		return nil, nil
	}
	defer b.source.Close()

	var r io.Reader = b.source
	capped := limit > 0
	if capped {
		r = io.LimitReader(b.source, limit+1)
	}

	buf, err := io.ReadAll(r)
	if err != nil {
		b.err = fmt.Errorf("%w: %v", ErrBodyStream, err)
		return nil, b.err
	}
	if capped && int64(len(buf)) > limit {
		b.err = ErrBodyTooLarge
		return nil, b.err
	}
	b.collected = buf
	return buf, nil
}

// Capture is a single path template variable binding.
type Capture struct {
	Name  string
	Value string
}

// PathShape is the ordered mapping from path template variables to their
// captured values for one request, produced by matching a template against a
// concrete URI.
type PathShape struct {
	captures []Capture
}

// Get returns the captured value for name, and whether it was present.
func (p PathShape) Get(name string) (string, bool) {
	for _, c := range p.captures {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Captures returns the ordered list of captures.
func (p PathShape) Captures() []Capture {
	out := make([]Capture, len(p.captures))
	copy(out, p.captures)
	return out
}

// ErrPathMismatch is returned by MatchPath when path does not satisfy the
// template's shape (different segment count, or a literal segment mismatch).
var ErrPathMismatch = errors.New("request: path does not match template")

// MatchPath matches a concrete URI path against a template such as
// "foo/{token}/bar". Literal segments are compared case-insensitively;
// "{name}" segments match any single non-slash segment and are captured into
// the returned PathShape, in declaration order. Leading and trailing slashes
// on either side are stripped before matching; beyond that, no further
// normalization is performed.
func MatchPath(template, path string) (PathShape, error) {
	tSegs := splitPath(template)
	pSegs := splitPath(path)
	if len(tSegs) != len(pSegs) {
		return PathShape{}, ErrPathMismatch
	}

	var captures []Capture
	for i, t := range tSegs {
		p := pSegs[i]
		if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") {
			name := t[1 : len(t)-1]
			captures = append(captures, Capture{Name: name, Value: p})
			continue
		}
		if !strings.EqualFold(t, p) {
			return PathShape{}, ErrPathMismatch
		}
	}
	return PathShape{captures: captures}, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
