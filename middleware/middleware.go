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

// Package middleware provides a standard approach for chaining and composing
// typed HTTP middleware.
//
// Unlike the classic "func(http.Handler) http.Handler" shape, a Pipe closes
// over the three values a pipeline.Builder threads through a stage: the
// input, the response writer, and the context. A Transform may additionally
// change the shape of any of those three on its way to the next stage,
// which is how a stage like JWT verification can hand a richer context
// downstream while leaving the outer shape untouched for the caller.
//
// # Usage
//
//	type Req = request.Head
//	type W = writer.ResponseWriter
//	type Ctx = *router.Context
//
//	chain := middleware.Chain(
//		middleware.Skip(cors.New(opts...), isPreflight),
//	)
package middleware

// Pipe is a pass-through middleware stage: it observes or mutates in, w, and
// ctx, then calls next with the same shape. Chaining Pipes of the same
// (I, W, C) cannot change what the eventual handler receives.
type Pipe[I, W, C any] func(in I, w W, ctx C, next func(I, W, C) error) error

// Transform is a shape-changing middleware stage: it takes (I1, W1, C1) and
// calls next with a possibly different (I2, W2, C2). pipeline.WithTransform
// is the only place a Transform is spliced into a Builder, so the compiler
// checks that the stage before it produces (I1, W1, C1) and the stage after
// it expects (I2, W2, C2).
type Transform[I1, W1, C1, I2, W2, C2 any] func(
	in I1, w W1, ctx C1, next func(I2, W2, C2) error,
) error

// Chain composes pipes of identical shape into one, in the order given: the
// first pipe is outermost and runs first, so Chain(A, B, C) wraps as
// A(B(C(next))).
func Chain[I, W, C any](pipes ...Pipe[I, W, C]) Pipe[I, W, C] {
	return func(in I, w W, ctx C, next func(I, W, C) error) error {
		var run func(i int) error
		run = func(i int) error {
			if i == len(pipes) {
				return next(in, w, ctx)
			}
			if pipes[i] == nil {
				return run(i + 1)
			}
			return pipes[i](in, w, ctx, func(in I, w W, ctx C) error {
				return run(i + 1)
			})
		}
		return run(0)
	}
}

// Skipper decides whether a Pipe should be bypassed for a given (in, w, ctx)
// triple, e.g. to exclude a health-check route from auth.
type Skipper[I, W, C any] func(in I, w W, ctx C) bool

// Skip wraps pipe so that it is bypassed (next called directly) whenever
// condition reports true.
func Skip[I, W, C any](pipe Pipe[I, W, C], condition Skipper[I, W, C]) Pipe[I, W, C] {
	return func(in I, w W, ctx C, next func(I, W, C) error) error {
		if condition(in, w, ctx) {
			return next(in, w, ctx)
		}
		return pipe(in, w, ctx, next)
	}
}
