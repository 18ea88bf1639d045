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

// Package codec turns wire bytes into typed Go values and back, and builds
// the per-field decoders that compose a typed operation input out of the
// request body, query string, path captures, and headers, and the
// per-field encoders that project a typed operation output onto a body and
// an additional header set.
package codec

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/deep-rent/opx/internal/pointer"
	"github.com/deep-rent/opx/internal/primitive"
	"github.com/deep-rent/opx/internal/tag"
	"github.com/deep-rent/opx/request"
	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
)

// Decoder turns a byte slice into a Go value.
type Decoder interface {
	Decode(data []byte, v any) error
}

// Encoder turns a Go value into a byte slice.
type Encoder interface {
	Encode(v any) ([]byte, error)
}

// Codec is both a Decoder and an Encoder for a particular wire format.
type Codec interface {
	Decoder
	Encoder
}

type jsonCodec struct{}

func (jsonCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }

type yamlCodec struct{}

func (yamlCodec) Decode(data []byte, v any) error { return yaml.Unmarshal(data, v) }
func (yamlCodec) Encode(v any) ([]byte, error)    { return yaml.Marshal(v) }

// JSON is the default Codec, used whenever a request or response declares
// (or is assumed to carry) Content-Type application/json.
var JSON Codec = jsonCodec{}

// YAML is the alternate Codec for application/yaml / application/x-yaml.
var YAML Codec = yamlCodec{}

// Infer picks a Codec from a file extension or Content-Type-like string,
// defaulting to JSON for anything it doesn't recognize.
func Infer(path string) Codec {
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"),
		strings.Contains(path, "yaml"):
		return YAML
	default:
		return JSON
	}
}

// Location names one of the four carriers a typed input field may be bound
// to.
type Location string

const (
	LocationBody   Location = "body"
	LocationQuery  Location = "query"
	LocationPath   Location = "path"
	LocationHeader Location = "header"
)

// ValidationError reports that a single input field could not be decoded
// from its declared Location. dispatch maps it to a 400 response whose
// Reason carries Err's message.
type ValidationError struct {
	Location Location
	Field    string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("codec: field %q (in %s): %v", e.Field, e.Location, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Source is everything a typed input may be decoded from: the request head
// (method, URL, headers), the path captures produced by router matching,
// and the collected request body.
type Source struct {
	Head  request.Head
	Shape request.PathShape
	Body  []byte
}

// Input decodes a Source into a T. NewInput builds one by walking T's
// fields for `in:"location[,key]"` tags; Compose builds one from a
// hand-written function for inputs the tag grammar cannot express.
type Input[T any] func(Source) (T, error)

// Compose wraps fn as an Input, bypassing struct-tag based composition. Use
// it when a field needs to be derived from more than one carrier at once.
func Compose[T any](fn func(Source) (T, error)) Input[T] {
	return Input[T](fn)
}

type fieldPlan struct {
	location Location
	key      string
	name     string
	index    []int
}

// NewInput compiles an Input[T] from T's struct tags. Every exported field
// tagged `in:"body"`, `in:"query,<key>"`, `in:"path,<key>"`, or
// `in:"header,<key>"` is decoded from the matching carrier; an omitted key
// defaults to the field's own name. Fields without an `in` tag are left at
// their zero value. codec decodes the body carrier and any body-tagged
// field; a nil codec defaults to JSON.
func NewInput[T any](c Codec) (Input[T], error) {
	if c == nil {
		c = JSON
	}
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("codec: Input requires a struct type, got %T", zero)
	}
	plans, err := compile(rt)
	if err != nil {
		return nil, err
	}
	return func(src Source) (T, error) {
		var out T
		rv := reflect.ValueOf(&out).Elem()
		for _, p := range plans {
			fv := rv.FieldByIndex(p.index)
			if err := decodeField(fv, p, src, c); err != nil {
				return out, err
			}
		}
		return out, nil
	}, nil
}

func compile(rt reflect.Type) ([]fieldPlan, error) {
	var plans []fieldPlan
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		raw, ok := sf.Tag.Lookup("in")
		if !ok {
			continue
		}
		t := tag.Parse(raw)
		loc := Location(t.Name)
		key := sf.Name
		for k := range t.Opts() {
			key = k
			break
		}
		switch loc {
		case LocationBody, LocationQuery, LocationPath, LocationHeader:
		default:
			return nil, fmt.Errorf("codec: field %q: unknown in-location %q", sf.Name, loc)
		}
		plans = append(plans, fieldPlan{
			location: loc,
			key:      key,
			name:     sf.Name,
			index:    sf.Index,
		})
	}
	return plans, nil
}

func decodeField(fv reflect.Value, p fieldPlan, src Source, c Codec) error {
	fail := func(err error) error {
		return &ValidationError{Location: p.location, Field: p.name, Err: err}
	}
	switch p.location {
	case LocationBody:
		if len(src.Body) == 0 {
			return nil
		}
		if err := c.Decode(src.Body, fv.Addr().Interface()); err != nil {
			return fail(err)
		}
		return nil
	case LocationQuery:
		v := src.Head.Query().Get(p.key)
		if v == "" {
			return nil
		}
		if err := primitive.Parse(pointer.Deref(fv), v); err != nil {
			return fail(err)
		}
		return nil
	case LocationPath:
		v, ok := src.Shape.Get(p.key)
		if !ok {
			return nil
		}
		if err := primitive.Parse(pointer.Deref(fv), v); err != nil {
			return fail(err)
		}
		return nil
	case LocationHeader:
		v := src.Head.Header.Get(p.key)
		if v == "" {
			return nil
		}
		if err := primitive.Parse(pointer.Deref(fv), v); err != nil {
			return fail(err)
		}
		return nil
	default:
		return fail(fmt.Errorf("unreachable location %q", p.location))
	}
}

// Output encodes a T into its two wire projections: the body-encodable view
// and the additional-headers-encodable view, either of which may be empty.
// Output is the encode-side counterpart of Input.
type Output[T any] func(v T) (body []byte, headers http.Header, err error)

type outFieldPlan struct {
	key   string
	index []int
}

// compileOutput walks rt for fields tagged `out:"header[,key]"`. Fields
// without an `out` tag stay in the value passed to the codec as-is; rt need
// not be a struct at all (a bare scalar output has no header projection).
func compileOutput(rt reflect.Type) ([]outFieldPlan, error) {
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, nil
	}
	var plans []outFieldPlan
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		raw, ok := sf.Tag.Lookup("out")
		if !ok {
			continue
		}
		t := tag.Parse(raw)
		if Location(t.Name) != LocationHeader {
			return nil, fmt.Errorf("codec: field %q: unknown out-location %q", sf.Name, t.Name)
		}
		key := sf.Name
		for k := range t.Opts() {
			key = k
			break
		}
		plans = append(plans, outFieldPlan{key: key, index: sf.Index})
	}
	return plans, nil
}

// headerValue renders fv (a struct field addressed by an `out:"header"` tag)
// as a header value. Pointer fields are dereferenced; a nil pointer omits
// the header entirely.
func headerValue(fv reflect.Value) (string, bool) {
	for fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return "", false
		}
		fv = fv.Elem()
	}
	return fmt.Sprint(fv.Interface()), true
}

// NewOutput compiles an Output[T] from T's struct tags. Every exported
// field tagged `out:"header[,key]"` is projected into the response's
// additional headers; an omitted key defaults to the field's own name. The
// body view is always the complete value, encoded with c (a nil c defaults
// to JSON) exactly as c.Encode(v) would — a T with no `out` tags, or a
// non-struct T, behaves exactly like a plain body-only output.
func NewOutput[T any](c Codec) (Output[T], error) {
	if c == nil {
		c = JSON
	}
	var zero T
	plans, err := compileOutput(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}
	return func(v T) ([]byte, http.Header, error) {
		body, err := c.Encode(v)
		if err != nil {
			return nil, nil, err
		}
		if len(plans) == 0 {
			return body, nil, nil
		}
		rv := reflect.ValueOf(v)
		headers := make(http.Header, len(plans))
		for _, p := range plans {
			fv := rv.FieldByIndex(p.index)
			if s, ok := headerValue(fv); ok {
				headers.Set(p.key, s)
			}
		}
		return body, headers, nil
	}, nil
}

// wireError is the JSON shape every domain and framework error takes on the
// wire: {"__type": "<tag>", "Reason": "<optional detail>"}.
type wireError struct {
	Type   string `json:"__type"`
	Reason string `json:"Reason,omitempty"`
}

// EncodeError serializes tag/reason into the wire error shape using c (a
// nil c defaults to JSON).
func EncodeError(c Codec, tag, reason string) ([]byte, error) {
	if c == nil {
		c = JSON
	}
	return c.Encode(wireError{Type: tag, Reason: reason})
}
