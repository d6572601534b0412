/*
Copyright The Verda Cloud Provider Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	Namespace = "verda_cloud_provider"

	NodeGroupSubsystem = "nodegroup"

	NodeGroupLabel = "nodegroup"
	StateLabel     = "state"
	ResultLabel    = "result"
)

var (
	NodeGroupTargetSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: NodeGroupSubsystem,
			Name:      "target_size",
			Help:      "Declared target size of a node group. Labeled by node group.",
		},
		[]string{NodeGroupLabel},
	)
	NodeGroupInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: NodeGroupSubsystem,
			Name:      "instances",
			Help:      "Number of cached instances of a node group. Labeled by node group and instance state.",
		},
		[]string{NodeGroupLabel, StateLabel},
	)
	InstancesCreatedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: NodeGroupSubsystem,
			Name:      "instances_created_total",
			Help:      "Number of instance create calls issued. Labeled by node group and whether the cloud accepted the call.",
		},
		[]string{NodeGroupLabel, ResultLabel},
	)
	InstancesDeletedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: NodeGroupSubsystem,
			Name:      "instances_deleted_total",
			Help:      "Number of instance delete calls issued. Labeled by node group and whether the cloud accepted the call.",
		},
		[]string{NodeGroupLabel, ResultLabel},
	)
	RefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: NodeGroupSubsystem,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of full cache rebuilds from the cloud instance listing. Labeled by result.",
			Buckets:   DurationBuckets(),
		},
		[]string{ResultLabel},
	)
)

func init() {
	crmetrics.Registry.MustRegister(NodeGroupTargetSize, NodeGroupInstances, InstancesCreatedCounter, InstancesDeletedCounter, RefreshDuration)
}

// DurationBuckets returns a list of buckets suitable for cloud API call latencies
func DurationBuckets() []float64 {
	return []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
}

// Measure returns a deferrable function that observes the duration between the
// defer statement and the end of the function.
func Measure(observer prometheus.Observer) func() {
	start := time.Now()
	return func() { observer.Observe(time.Since(start).Seconds()) }
}

// Result is the value of ResultLabel for an operation outcome
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
