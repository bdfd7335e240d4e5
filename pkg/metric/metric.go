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

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"gvisor.dev/sv39/pkg/log"
	"gvisor.dev/sv39/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInitializationDone indicates that the caller tried to create a
	// new metric after initialization.
	ErrInitializationDone = errors.New("metric cannot be created after initialization is complete")

	// ErrInvalidName indicates that the metric name is not of the form
	// "/a/b_c".
	ErrInvalidName = errors.New("metric name must start with '/' and contain only [a-z0-9_/]")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")
)

// Field contains the field name and allowed values for a metric with a
// single field.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues ...string) Field {
	return Field{name: name, allowedValues: allowedValues}
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to
// be monitored. If the metric has a field, one counter is kept per allowed
// field value.
//
// Metrics are not saved across save/restore and thus reset to zero on
// restore.
type Uint64Metric struct {
	name        string
	description string
	field       *Field
	values      []atomic.Uint64
}

var (
	// mu protects the registry below.
	mu sync.Mutex

	// initialized indicates that all metrics are registered. allMetrics is
	// immutable once initialized is true.
	initialized bool

	// allMetrics are the registered metrics, keyed by name.
	allMetrics = map[string]*Uint64Metric{}
)

// Initialize freezes the metric registry. Metrics can no longer be created
// afterwards.
func Initialize() error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return errors.New("metric.Initialize called twice")
	}
	initialized = true
	log.Debugf("Metrics initialized with %d metrics", len(allMetrics))
	return nil
}

func validName(name string) bool {
	if len(name) < 2 || name[0] != '/' {
		return false
	}
	for _, c := range name[1:] {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '/') {
			return false
		}
	}
	return true
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(fields) > 1 {
		return nil, fmt.Errorf("metric %q: at most one field is supported, got %d", name, len(fields))
	}
	m := &Uint64Metric{name: name, description: description}
	n := 1
	if len(fields) == 1 {
		if len(fields[0].allowedValues) == 0 {
			return nil, ErrFieldHasNoAllowedValues
		}
		m.field = &fields[0]
		n = len(fields[0].allowedValues)
	}
	m.values = make([]atomic.Uint64, n)

	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil, ErrInitializationDone
	}
	if _, ok := allMetrics[name]; ok {
		return nil, ErrNameInUse
	}
	allMetrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Name returns the metric name.
func (m *Uint64Metric) Name() string {
	return m.name
}

func (m *Uint64Metric) index(fieldValues []string) int {
	if m.field == nil {
		if len(fieldValues) != 0 {
			panic(fmt.Sprintf("metric %s has no fields, got %v", m.name, fieldValues))
		}
		return 0
	}
	if len(fieldValues) != 1 {
		panic(fmt.Sprintf("metric %s requires exactly one field value, got %v", m.name, fieldValues))
	}
	for i, v := range m.field.allowedValues {
		if v == fieldValues[0] {
			return i
		}
	}
	panic(fmt.Sprintf("metric %s: invalid value %q for field %s", m.name, fieldValues[0], m.field.name))
}

// Value returns the current value of the metric for the given set of
// fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.index(fieldValues)].Load()
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.values[m.index(fieldValues)].Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.index(fieldValues)].Add(v)
}

// Sample is one observed value of a metric.
type Sample struct {
	// Name is the metric name.
	Name string

	// Field is the field name, empty if the metric has no field.
	Field string

	// FieldValue is the field value the sample was taken for.
	FieldValue string

	// Value is the counter value.
	Value uint64
}

// String implements fmt.Stringer.
func (s Sample) String() string {
	if s.Field == "" {
		return fmt.Sprintf("%s %d", s.Name, s.Value)
	}
	return fmt.Sprintf("%s{%s=%q} %d", s.Name, s.Field, s.FieldValue, s.Value)
}

// Snapshot returns the current value of every registered metric whose name
// starts with prefix, sorted by name then field value order.
func Snapshot(prefix string) []Sample {
	mu.Lock()
	names := make([]string, 0, len(allMetrics))
	for name := range allMetrics {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	ms := make([]*Uint64Metric, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		ms = append(ms, allMetrics[name])
	}
	mu.Unlock()

	var samples []Sample
	for _, m := range ms {
		if m.field == nil {
			samples = append(samples, Sample{Name: m.name, Value: m.values[0].Load()})
			continue
		}
		for i, v := range m.field.allowedValues {
			samples = append(samples, Sample{
				Name:       m.name,
				Field:      m.field.name,
				FieldValue: v,
				Value:      m.values[i].Load(),
			})
		}
	}
	return samples
}
