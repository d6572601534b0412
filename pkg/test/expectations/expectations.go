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

package expectations

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive,stylecheck
	. "github.com/onsi/gomega"    //nolint:revive,stylecheck
	prometheus "github.com/prometheus/client_model/go"
	"github.com/samber/lo"
	v1 "k8s.io/api/core/v1"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/nodegroup"
)

// FindMetricWithLabelValues attempts to find a metric with a name with a set of label values
// If no metric is found, the *prometheus.Metric will be nil
func FindMetricWithLabelValues(name string, labelValues map[string]string) (*prometheus.Metric, bool) {
	GinkgoHelper()
	metrics, err := crmetrics.Registry.Gather()
	Expect(err).To(BeNil())

	mf, found := lo.Find(metrics, func(mf *prometheus.MetricFamily) bool {
		return mf.GetName() == name
	})
	if !found {
		return nil, false
	}
	for _, m := range mf.Metric {
		temp := lo.Assign(labelValues)
		for _, labelPair := range m.Label {
			if v, ok := temp[labelPair.GetName()]; ok && v == labelPair.GetValue() {
				delete(temp, labelPair.GetName())
			}
		}
		if len(temp) == 0 {
			return m, true
		}
	}
	return nil, false
}

func ExpectResources(expected, real v1.ResourceList) {
	GinkgoHelper()
	for k, v := range expected {
		realV := real[k]
		Expect(v.Value()).To(BeNumerically("~", realV.Value()), "resource %s", k)
	}
}

// ExpectNodes returns the instances the engine reports for a group
func ExpectNodes(ctx context.Context, engine *nodegroup.Engine, id string) []*nodegroup.InstanceRecord {
	GinkgoHelper()
	records, err := engine.Nodes(ctx, id)
	Expect(err).ToNot(HaveOccurred())
	return records
}

func ExpectTargetSize(ctx context.Context, engine *nodegroup.Engine, id string, size int32) {
	GinkgoHelper()
	target, err := engine.TargetSize(ctx, id)
	Expect(err).ToNot(HaveOccurred())
	Expect(target).To(Equal(size))
}

func ExpectRefreshed(ctx context.Context, engine *nodegroup.Engine) {
	GinkgoHelper()
	Expect(engine.Refresh(ctx)).To(Succeed())
}

// ExpectStates counts records per state
func ExpectStates(records []*nodegroup.InstanceRecord, expected map[nodegroup.InstanceState]int) {
	GinkgoHelper()
	Expect(lo.CountValuesBy(records, func(r *nodegroup.InstanceRecord) nodegroup.InstanceState { return r.State })).To(Equal(expected))
}

func ExpectNotFound(err error) {
	GinkgoHelper()
	Expect(cloudprovider.IsNotFoundError(err)).To(BeTrue(), "expected NotFoundError, got %v", err)
}

func ExpectInvalidArgument(err error) {
	GinkgoHelper()
	Expect(cloudprovider.IsInvalidArgumentError(err)).To(BeTrue(), "expected InvalidArgumentError, got %v", err)
}
