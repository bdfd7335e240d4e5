// Copyright 2026 The gVisor Authors.
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

package sync

// Exclusive guards a value of type T so that it is only reachable while a
// mutex is held. The zero value holds the zero T.
type Exclusive[T any] struct {
	mu  Mutex
	val T
}

// NewExclusive returns an Exclusive holding v.
func NewExclusive[T any](v T) *Exclusive[T] {
	return &Exclusive[T]{val: v}
}

// With calls fn with exclusive access to the guarded value and returns its
// error. fn must not retain the pointer after it returns.
func (e *Exclusive[T]) With(fn func(*T) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.val)
}

// Get returns a copy of the guarded value.
func (e *Exclusive[T]) Get() T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.val
}

// Swap replaces the guarded value with v and returns the previous one.
func (e *Exclusive[T]) Swap(v T) T {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.val
	e.val = v
	return old
}
