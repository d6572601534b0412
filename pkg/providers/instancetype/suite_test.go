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

package instancetype_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
	clock "k8s.io/utils/clock/testing"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider/fake"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/instancetype"
	"github.com/verda-cloud/verda-cloud-provider/pkg/test"
)

var ctx context.Context
var gateway *fake.Gateway
var fakeClock *clock.FakeClock

func TestInstanceType(t *testing.T) {
	ctx = context.Background()
	RegisterFailHandler(Fail)
	RunSpecs(t, "InstanceType")
}

var _ = BeforeEach(func() {
	gateway = fake.NewGateway()
	fakeClock = clock.NewFakeClock(time.Now())
})

var _ = Describe("GPUTypeFromName", func() {
	DescribeTable("should parse the GPU model",
		func(name, expected string) {
			Expect(instancetype.GPUTypeFromName(name)).To(Equal(expected))
		},
		Entry("single V100", "1V100.6V", "V100"),
		Entry("eight H100 SXM", "8H100.80S.176V", "H100"),
		Entry("A100", "4A100.88V", "A100"),
		Entry("workstation card", "1RTX6000ADA.10V", "RTX6000ADA"),
		Entry("cpu only", "CPU.4V.16G", ""),
	)
})

var _ = Describe("Catalog", func() {
	It("should convert cloud instance types", func() {
		spec := instancetype.FromInstanceType(fake.DefaultInstanceTypes()[0])
		Expect(spec.Name).To(Equal("1V100.6V"))
		Expect(spec.CPUCount).To(BeEquivalentTo(6))
		Expect(spec.MemoryBytes).To(BeEquivalentTo(23 * 1024 * 1024 * 1024))
		Expect(spec.GPUCount).To(BeEquivalentTo(1))
		Expect(spec.GPUType).To(Equal("V100"))
		Expect(spec.GPULabelValue).To(Equal("V100"))
	})
	It("should not assign a GPU type to cpu only instance types", func() {
		spec := instancetype.FromInstanceType(fake.DefaultInstanceTypes()[2])
		Expect(spec.GPUCount).To(BeZero())
		Expect(spec.GPUType).To(BeEmpty())
	})
	It("should return NotFound for unknown instance types", func() {
		_, err := instancetype.NewCatalog().Get("missing")
		Expect(cloudprovider.IsNotFoundError(err)).To(BeTrue())
	})
	It("should index GPU types", func() {
		catalog := instancetype.NewCatalog(lo.Map(fake.DefaultInstanceTypes(), func(it *cloudprovider.InstanceType, _ int) *instancetype.Spec {
			return instancetype.FromInstanceType(it)
		})...)
		Expect(lo.Keys(catalog.GPUTypes())).To(ConsistOf("V100", "H100"))
		Expect(catalog.GPUTypes()["H100"].Name).To(Equal("8H100.80S.176V"))
	})
	It("should apply overrides while keeping prices", func() {
		base := instancetype.FromInstanceType(fake.DefaultInstanceTypes()[0])
		spec := instancetype.WithOverride(base.Name, base, &config.Resources{CPU: 8, MemoryGB: 32, GPUCount: 2, GPUModel: "V100S"})
		Expect(spec.CPUCount).To(BeEquivalentTo(8))
		Expect(spec.GPUCount).To(BeEquivalentTo(2))
		Expect(spec.GPUType).To(Equal("V100S"))
		Expect(spec.OnDemandPrice).To(Equal(base.OnDemandPrice))
		Expect(base.CPUCount).To(BeEquivalentTo(6))
	})
})

var _ = Describe("Provider", func() {
	var provider *instancetype.Provider

	BeforeEach(func() {
		provider = instancetype.NewProvider(fakeClock, gateway, test.Config(test.NodeGroup()), time.Minute)
	})
	It("should load the catalog from the cloud on first use", func() {
		catalog := provider.Get(ctx)
		Expect(catalog.Len()).To(Equal(3))
		_, err := catalog.Get("8H100.80S.176V")
		Expect(err).ToNot(HaveOccurred())
	})
	It("should serve from cache within the ttl", func() {
		provider.Get(ctx)
		gateway.InstanceTypes = gateway.InstanceTypes[:1]
		Expect(provider.Get(ctx).Len()).To(Equal(3))
		fakeClock.Step(2 * time.Minute)
		Expect(provider.Get(ctx).Len()).To(Equal(1))
	})
	It("should bypass the cache when asked", func() {
		provider.Get(ctx)
		gateway.InstanceTypes = gateway.InstanceTypes[:1]
		Expect(provider.Get(ctx, instancetype.FromCache(false)).Len()).To(Equal(1))
	})
	It("should keep the previous catalog when the cloud fails", func() {
		provider.Get(ctx)
		gateway.ListInstanceTypesError = fmt.Errorf("unavailable")
		Expect(provider.Refresh(ctx)).ToNot(Succeed())
		fakeClock.Step(2 * time.Minute)
		Expect(provider.Get(ctx).Len()).To(Equal(3))
	})
	It("should back off from the cloud for a ttl after a failed refresh", func() {
		provider.Get(ctx)
		Expect(gateway.ListInstanceTypesCallCount()).To(Equal(1))
		gateway.ListInstanceTypesError = fmt.Errorf("unavailable")
		fakeClock.Step(2 * time.Minute)

		for range 5 {
			Expect(provider.Get(ctx).Len()).To(Equal(3))
		}
		Expect(gateway.ListInstanceTypesCallCount()).To(Equal(2))

		gateway.ListInstanceTypesError = nil
		gateway.InstanceTypes = gateway.InstanceTypes[:1]
		Expect(provider.Get(ctx).Len()).To(Equal(3))
		fakeClock.Step(2 * time.Minute)
		Expect(provider.Get(ctx).Len()).To(Equal(1))
		Expect(gateway.ListInstanceTypesCallCount()).To(Equal(3))
	})
	It("should serve configured resources when the cloud has never answered", func() {
		gateway.ListInstanceTypesError = fmt.Errorf("unavailable")
		provider = instancetype.NewProvider(fakeClock, gateway, test.Config(test.NodeGroup(config.NodeGroup{
			InstanceType: "1A100.22V",
			Resources:    &config.Resources{CPU: 22, MemoryGB: 120, GPUCount: 1},
		})), time.Minute)
		spec, err := provider.Get(ctx).Get("1A100.22V")
		Expect(err).ToNot(HaveOccurred())
		Expect(spec.CPUCount).To(BeEquivalentTo(22))
		Expect(spec.GPUType).To(Equal("A100"))
	})
})
