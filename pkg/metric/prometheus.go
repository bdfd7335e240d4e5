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

package metric

import (
	"fmt"
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Prefix is prepended to every exported Prometheus metric name.
const Prefix = "sv39"

// PrometheusName returns the Prometheus name of the metric named name, e.g.
// "/memory/frames_allocated" becomes "sv39_memory_frames_allocated".
func PrometheusName(name string) string {
	return Prefix + strings.ReplaceAll(name, "/", "_")
}

// families converts the current snapshot to Prometheus metric families.
func families(prefix string) []*dto.MetricFamily {
	var (
		fams []*dto.MetricFamily
		cur  *dto.MetricFamily
	)
	for _, s := range Snapshot(prefix) {
		if cur == nil || cur.GetName() != PrometheusName(s.Name) {
			mu.Lock()
			help := allMetrics[s.Name].description
			mu.Unlock()
			cur = &dto.MetricFamily{
				Name: proto.String(PrometheusName(s.Name)),
				Help: proto.String(help),
				Type: dto.MetricType_COUNTER.Enum(),
			}
			fams = append(fams, cur)
		}
		m := &dto.Metric{
			Counter: &dto.Counter{Value: proto.Float64(float64(s.Value))},
		}
		if s.Field != "" {
			m.Label = []*dto.LabelPair{{
				Name:  proto.String(s.Field),
				Value: proto.String(s.FieldValue),
			}}
		}
		cur.Metric = append(cur.Metric, m)
	}
	return fams
}

// WritePrometheus writes every registered metric whose name starts with
// prefix to w in the Prometheus text exposition format.
func WritePrometheus(w io.Writer, prefix string) error {
	for _, fam := range families(prefix) {
		if _, err := expfmt.MetricFamilyToText(w, fam); err != nil {
			return fmt.Errorf("writing metric %q: %w", fam.GetName(), err)
		}
	}
	return nil
}
