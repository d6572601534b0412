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

package resources_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/verda-cloud/verda-cloud-provider/pkg/test"
	"github.com/verda-cloud/verda-cloud-provider/pkg/utils/resources"
)

// ExpectResources expects all the resources in expected to exist in real with the same values
func ExpectResources(expected, real v1.ResourceList) {
	GinkgoHelper()
	Expect(real).To(HaveLen(len(expected)))
	for k, v := range expected {
		realV := real[k]
		Expect(v.Value()).To(BeNumerically("~", realV.Value()), "resource %s", k)
	}
}

func requirements(cpu, memory string) v1.ResourceRequirements {
	list := v1.ResourceList{v1.ResourceCPU: resource.MustParse(cpu), v1.ResourceMemory: resource.MustParse(memory)}
	return v1.ResourceRequirements{Limits: list, Requests: list.DeepCopy()}
}

func TestResources(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Resources")
}

var _ = Describe("Resources", func() {
	Context("Ceiling", func() {
		It("should sum containers and sidecarContainers", func() {
			pod := test.Pod(test.PodOptions{
				ResourceRequirements: requirements("2", "1Gi"),
				InitContainers: []v1.Container{
					{RestartPolicy: lo.ToPtr(v1.ContainerRestartPolicyAlways), Resources: requirements("1", "2Gi")},
				},
			})
			podResources := resources.Ceiling(pod)
			ExpectResources(v1.ResourceList{v1.ResourceCPU: resource.MustParse("3"), v1.ResourceMemory: resource.MustParse("3Gi")}, podResources.Requests)
			ExpectResources(v1.ResourceList{v1.ResourceCPU: resource.MustParse("3"), v1.ResourceMemory: resource.MustParse("3Gi")}, podResources.Limits)
		})
		It("should add overhead on top of the larger of containers and initContainers", func() {
			pod := test.Pod(test.PodOptions{
				Overhead:             v1.ResourceList{v1.ResourceCPU: resource.MustParse("5"), v1.ResourceMemory: resource.MustParse("1Gi")},
				ResourceRequirements: requirements("2", "1Gi"),
				InitContainers: []v1.Container{
					{Resources: requirements("4", "2Gi")},
					{RestartPolicy: lo.ToPtr(v1.ContainerRestartPolicyAlways), Resources: requirements("3", "3Gi")},
				},
			})
			podResources := resources.Ceiling(pod)
			ExpectResources(v1.ResourceList{v1.ResourceCPU: resource.MustParse("10"), v1.ResourceMemory: resource.MustParse("5Gi")}, podResources.Requests)
			ExpectResources(v1.ResourceList{v1.ResourceCPU: resource.MustParse("10"), v1.ResourceMemory: resource.MustParse("5Gi")}, podResources.Limits)
		})
		It("should count the sidecars started before a large initContainer", func() {
			pod := test.Pod(test.PodOptions{
				ResourceRequirements: requirements("2", "1Gi"),
				InitContainers: []v1.Container{
					{RestartPolicy: lo.ToPtr(v1.ContainerRestartPolicyAlways), Resources: requirements("4", "2Gi")},
					{Resources: requirements("10", "2Gi")},
				},
			})
			podResources := resources.Ceiling(pod)
			ExpectResources(v1.ResourceList{v1.ResourceCPU: resource.MustParse("14"), v1.ResourceMemory: resource.MustParse("4Gi")}, podResources.Requests)
		})
		It("should not count sidecars started after an initContainer", func() {
			pod := test.Pod(test.PodOptions{
				ResourceRequirements: requirements("2", "1Gi"),
				InitContainers: []v1.Container{
					{Resources: requirements("5", "1Gi")},
					{RestartPolicy: lo.ToPtr(v1.ContainerRestartPolicyAlways), Resources: requirements("1", "1Gi")},
				},
			})
			podResources := resources.Ceiling(pod)
			ExpectResources(v1.ResourceList{v1.ResourceCPU: resource.MustParse("5"), v1.ResourceMemory: resource.MustParse("2Gi")}, podResources.Requests)
		})
		It("should carry gpu limits into requests", func() {
			pod := test.Pod(test.PodOptions{
				ResourceRequirements: v1.ResourceRequirements{
					Requests: v1.ResourceList{v1.ResourceCPU: resource.MustParse("1")},
					Limits:   v1.ResourceList{resources.GPU: resource.MustParse("2")},
				},
			})
			podResources := resources.Ceiling(pod)
			ExpectResources(v1.ResourceList{v1.ResourceCPU: resource.MustParse("1"), resources.GPU: resource.MustParse("2")}, podResources.Requests)
		})
	})
	Context("MergeResourceLimitsIntoRequests", func() {
		It("should use limits for resources without a request", func() {
			container := v1.Container{
				Resources: v1.ResourceRequirements{
					Requests: v1.ResourceList{v1.ResourceCPU: resource.MustParse("1")},
					Limits:   v1.ResourceList{v1.ResourceCPU: resource.MustParse("2"), v1.ResourceMemory: resource.MustParse("1Gi")},
				},
			}
			ExpectResources(v1.ResourceList{
				v1.ResourceCPU:    resource.MustParse("1"),
				v1.ResourceMemory: resource.MustParse("1Gi"),
			}, resources.MergeResourceLimitsIntoRequests(container))
		})
	})
	Context("Fits", func() {
		total := v1.ResourceList{v1.ResourceCPU: resource.MustParse("6"), v1.ResourceMemory: resource.MustParse("23Gi"), resources.GPU: resource.MustParse("1")}
		DescribeTable("should compare every requested resource",
			func(candidate v1.ResourceList, fits bool) {
				Expect(resources.Fits(candidate, total)).To(Equal(fits))
			},
			Entry("smaller", v1.ResourceList{v1.ResourceCPU: resource.MustParse("2")}, true),
			Entry("equal", v1.ResourceList{v1.ResourceCPU: resource.MustParse("6"), resources.GPU: resource.MustParse("1")}, true),
			Entry("too much memory", v1.ResourceList{v1.ResourceMemory: resource.MustParse("24Gi")}, false),
			Entry("too many gpus", v1.ResourceList{resources.GPU: resource.MustParse("2")}, false),
			Entry("missing resource", v1.ResourceList{"example.com/fpga": resource.MustParse("1")}, false),
			Entry("zero missing resource", v1.ResourceList{"example.com/fpga": resource.MustParse("0")}, true),
		)
	})
	Context("Fraction", func() {
		total := v1.ResourceList{v1.ResourceCPU: resource.MustParse("4"), v1.ResourceMemory: resource.MustParse("16Gi")}
		DescribeTable("should return the largest share",
			func(candidate v1.ResourceList, fraction float64) {
				Expect(resources.Fraction(candidate, total)).To(BeNumerically("~", fraction, 1e-9))
			},
			Entry("cpu dominant", v1.ResourceList{v1.ResourceCPU: resource.MustParse("2"), v1.ResourceMemory: resource.MustParse("4Gi")}, 0.5),
			Entry("memory dominant", v1.ResourceList{v1.ResourceCPU: resource.MustParse("1"), v1.ResourceMemory: resource.MustParse("12Gi")}, 0.75),
			Entry("nothing", v1.ResourceList{}, 0.0),
			Entry("absent resource", v1.ResourceList{resources.GPU: resource.MustParse("1")}, 1.0),
		)
	})
})
