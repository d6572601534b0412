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
	"context"

	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/metrics"
)

const (
	metricLabelMethod = "method"
	metricLabelError  = "error"
	// MetricLabelErrorDefaultVal is the default string value that represents "error type unknown"
	MetricLabelErrorDefaultVal = ""
	// Well-known metricLabelError values
	NotFoundError             = "NotFoundError"
	InvalidArgumentError      = "InvalidArgumentError"
	CloudOperationFailedError = "CloudOperationFailedError"
)

// decorator implements Gateway
var _ cloudprovider.Gateway = (*decorator)(nil)

var methodDurationHistogramVec = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "cloudprovider",
		Name:      "duration_seconds",
		Help:      "Duration of cloud gateway method calls. Labeled by method name.",
		Buckets:   metrics.DurationBuckets(),
	},
	[]string{
		metricLabelMethod,
	},
)

var (
	errorsTotalCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cloudprovider",
			Name:      "errors_total",
			Help:      "Total number of errors returned from cloud gateway calls. Labeled by method name and error type.",
		},
		[]string{
			metricLabelMethod,
			metricLabelError,
		},
	)
)

func init() {
	crmetrics.Registry.MustRegister(methodDurationHistogramVec, errorsTotalCounter)
}

type decorator struct {
	cloudprovider.Gateway
}

// Decorate returns a new `Gateway` instance that will delegate all method
// calls to the argument, `gateway`, and publish aggregated latency metrics.
//
// Do not decorate a `Gateway` multiple times or published metrics will contain
// duplicated method call counts and latencies.
func Decorate(gateway cloudprovider.Gateway) cloudprovider.Gateway {
	return &decorator{gateway}
}

func (d *decorator) CreateInstance(ctx context.Context, req *cloudprovider.CreateInstanceRequest) (*cloudprovider.Instance, error) {
	method := "CreateInstance"
	defer metrics.Measure(methodDurationHistogramVec.With(getLabelsMapForDuration(method)))()
	instance, err := d.Gateway.CreateInstance(ctx, req)
	if err != nil {
		errorsTotalCounter.With(getLabelsMapForError(method, err)).Inc()
	}
	return instance, err
}

func (d *decorator) ListInstances(ctx context.Context) ([]*cloudprovider.Instance, error) {
	method := "ListInstances"
	defer metrics.Measure(methodDurationHistogramVec.With(getLabelsMapForDuration(method)))()
	instances, err := d.Gateway.ListInstances(ctx)
	if err != nil {
		errorsTotalCounter.With(getLabelsMapForError(method, err)).Inc()
	}
	return instances, err
}

func (d *decorator) DeleteInstance(ctx context.Context, id string) error {
	method := "DeleteInstance"
	defer metrics.Measure(methodDurationHistogramVec.With(getLabelsMapForDuration(method)))()
	err := d.Gateway.DeleteInstance(ctx, id)
	if err != nil {
		errorsTotalCounter.With(getLabelsMapForError(method, err)).Inc()
	}
	return err
}

func (d *decorator) ListInstanceTypes(ctx context.Context) ([]*cloudprovider.InstanceType, error) {
	method := "ListInstanceTypes"
	defer metrics.Measure(methodDurationHistogramVec.With(getLabelsMapForDuration(method)))()
	instanceTypes, err := d.Gateway.ListInstanceTypes(ctx)
	if err != nil {
		errorsTotalCounter.With(getLabelsMapForError(method, err)).Inc()
	}
	return instanceTypes, err
}

func (d *decorator) ListStartupScripts(ctx context.Context) ([]*cloudprovider.StartupScript, error) {
	method := "ListStartupScripts"
	defer metrics.Measure(methodDurationHistogramVec.With(getLabelsMapForDuration(method)))()
	scripts, err := d.Gateway.ListStartupScripts(ctx)
	if err != nil {
		errorsTotalCounter.With(getLabelsMapForError(method, err)).Inc()
	}
	return scripts, err
}

func (d *decorator) CreateStartupScript(ctx context.Context, name, script string) (*cloudprovider.StartupScript, error) {
	method := "CreateStartupScript"
	defer metrics.Measure(methodDurationHistogramVec.With(getLabelsMapForDuration(method)))()
	s, err := d.Gateway.CreateStartupScript(ctx, name, script)
	if err != nil {
		errorsTotalCounter.With(getLabelsMapForError(method, err)).Inc()
	}
	return s, err
}

func (d *decorator) DeleteStartupScript(ctx context.Context, id string) error {
	method := "DeleteStartupScript"
	defer metrics.Measure(methodDurationHistogramVec.With(getLabelsMapForDuration(method)))()
	err := d.Gateway.DeleteStartupScript(ctx, id)
	if err != nil {
		errorsTotalCounter.With(getLabelsMapForError(method, err)).Inc()
	}
	return err
}

// getLabelsMapForDuration is a convenience func that constructs a map[string]string
// for a prometheus Label map used to compose a duration metric spec
func getLabelsMapForDuration(method string) map[string]string {
	return prometheus.Labels{
		metricLabelMethod: method,
	}
}

// getLabelsMapForError is a convenience func that constructs a map[string]string
// for a prometheus Label map used to compose a counter metric spec
func getLabelsMapForError(method string, err error) map[string]string {
	return prometheus.Labels{
		metricLabelMethod: method,
		metricLabelError:  GetErrorTypeLabelValue(err),
	}
}

// GetErrorTypeLabelValue is a convenience func that returns
// a string representation of well-known Gateway error types
func GetErrorTypeLabelValue(err error) string {
	switch {
	case cloudprovider.IsNotFoundError(err):
		return NotFoundError
	case cloudprovider.IsInvalidArgumentError(err):
		return InvalidArgumentError
	case cloudprovider.IsCloudOperationFailedError(err):
		return CloudOperationFailedError
	}
	return MetricLabelErrorDefaultVal
}
