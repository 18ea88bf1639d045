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

package gzip_test

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gzipmw "github.com/deep-rent/opx/middleware/gzip"
	"github.com/deep-rent/opx/request"
	"github.com/deep-rent/opx/router"
	"github.com/deep-rent/opx/writer"
)

func TestNew(t *testing.T) {
	const payload = "This is a test payload that is long enough to be compressed."

	tests := []struct {
		name      string
		acceptEnc string
		mediaType string
		opts      []gzipmw.Option
		wantEnc   string
		wantZip   bool
	}{
		{"compresses text/plain", "gzip", "text/plain", nil, "gzip", true},
		{"no compress on missing accept-encoding", "", "text/plain", nil, "", false},
		{"no compress on other accept-encoding", "deflate, br", "text/plain", nil, "", false},
		{
			"no compress on excluded exact match", "gzip", "application/pdf",
			[]gzipmw.Option{gzipmw.WithExclude([]string{"application/pdf"})}, "", false,
		},
		{
			"no compress on excluded prefix match", "gzip", "image/png",
			[]gzipmw.Option{gzipmw.WithExclude([]string{"image/"})}, "", false,
		},
		{
			"compresses type outside exclude list", "gzip", "application/pd",
			[]gzipmw.Option{gzipmw.WithExclude([]string{"application/pdf"})}, "gzip", true,
		},
		{
			"no compress on custom excluded exact", "gzip", "application/vnd.custom",
			[]gzipmw.Option{gzipmw.WithExclude([]string{"application/vnd.custom"})}, "", false,
		},
		{
			"no compress on custom excluded prefix", "gzip", "text/vtt",
			[]gzipmw.Option{gzipmw.WithExclude([]string{"text/"})}, "", false,
		},
		{"handles empty body", "gzip", "text/plain", nil, "gzip", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := func(h request.Head, w writer.ResponseWriter, rc *router.Context) error {
				w.SetContentType(h.Header.Get("Content-Type"))
				w.SetStatus(http.StatusOK)
				if err := w.Commit(); err != nil {
					return err
				}
				body := payload
				if h.Header.Get("X-Empty-Body") != "" {
					body = ""
				}
				if body != "" {
					if err := w.AppendBodyPart([]byte(body)); err != nil {
						return err
					}
				}
				return w.Complete()
			}

			header := http.Header{}
			header.Set("Accept-Encoding", tc.acceptEnc)
			header.Set("Content-Type", tc.mediaType)
			if tc.name == "handles empty body" {
				header.Set("X-Empty-Body", "1")
			}
			head := request.Head{Method: "GET", URL: &url.URL{Path: "/"}, Header: header}

			rr := httptest.NewRecorder()
			w := writer.New(rr, nil)
			pipe := gzipmw.New(tc.opts...)
			err := pipe(head, w, &router.Context{}, next)
			require.NoError(t, err)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tc.wantEnc, rr.Header().Get("Content-Encoding"))

			if tc.wantEnc == "gzip" {
				assert.Equal(t, "Accept-Encoding", rr.Header().Get("Vary"))
				assert.Empty(t, rr.Header().Get("Content-Length"))
			}

			var body string
			if tc.wantZip {
				gzr, err := gzip.NewReader(rr.Body)
				require.NoError(t, err)
				data, err := io.ReadAll(gzr)
				require.NoError(t, err)
				require.NoError(t, gzr.Close())
				body = string(data)
			} else {
				data, err := io.ReadAll(rr.Body)
				require.NoError(t, err)
				body = string(data)
			}

			if tc.name == "handles empty body" {
				assert.Empty(t, body)
			} else {
				assert.Equal(t, payload, body)
			}
		})
	}
}

func TestNew_Flush(t *testing.T) {
	next := func(h request.Head, w writer.ResponseWriter, rc *router.Context) error {
		w.SetContentType("text/plain")
		w.SetStatus(http.StatusOK)
		if err := w.Commit(); err != nil {
			return err
		}
		if err := w.AppendBodyPart([]byte("first")); err != nil {
			return err
		}
		if flusher, ok := w.Unwrap().(http.Flusher); ok {
			flusher.Flush()
		}
		return w.AppendBodyPart([]byte("second"))
	}

	head := request.Head{Method: "GET", URL: &url.URL{Path: "/"}, Header: http.Header{"Accept-Encoding": {"gzip"}}}
	rr := httptest.NewRecorder()
	w := writer.New(rr, nil)
	pipe := gzipmw.New()
	err := pipe(head, w, &router.Context{}, next)
	require.NoError(t, err)
	require.ErrorIs(t, w.Complete(), writer.ErrInvalidStateForComplete)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	assert.True(t, rr.Flushed)

	gzr, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gzr)
	require.NoError(t, err)
	require.NoError(t, gzr.Close())

	assert.Equal(t, "firstsecond", string(data))
}
