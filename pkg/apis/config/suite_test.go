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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config")
}

const valid = `
nodeGroups:
  gpu-workers:
    instanceType: 1V100.6V
    image: ubuntu-22.04-cuda-12.0-docker
    minSize: 0
    maxSize: 10
    sshKeyIds: [key-1, key-2]
    hourlyPrice: 0.60
    labels:
      team: ml
    resources:
      cpu: 6
      memoryGb: 23
      gpuCount: 1
      gpuModel: V100
    autoscalingOptions:
      scaleDownUtilizationThreshold: 0.3
      scaleDownUnneededTime: 20m
      zeroOrMaxNodeScaling: false
  cpu:
    instanceType: CPU.4V.16G
    image: ubuntu-22.04
    maxSize: 3
    location: FIN-03
    contract: SPOT
    pricing: FIXED_PRICE
    startupScriptId: script-1
kubernetes:
  endpoint: https://10.0.0.1:6443
  token: abcdef.0123456789abcdef
  caHash: sha256:deadbeef
`

var _ = Describe("Config", func() {
	It("should parse a document and set defaults", func() {
		cfg, err := config.Parse([]byte(valid))
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.NodeGroups).To(HaveLen(2))

		gpu := cfg.NodeGroups["gpu-workers"]
		Expect(gpu.ID).To(Equal("gpu-workers"))
		Expect(gpu.Location).To(Equal(config.DefaultLocation))
		Expect(gpu.Contract).To(Equal(config.ContractPayAsYouGo))
		Expect(gpu.Pricing).To(Equal(config.PricingDynamic))
		Expect(gpu.SSHKeyIDs).To(Equal([]string{"key-1", "key-2"}))
		Expect(gpu.HourlyPrice).To(BeNumerically("~", 0.60))
		Expect(gpu.Resources.GPUModel).To(Equal("V100"))
		Expect(*gpu.AutoscalingOptions.ScaleDownUtilizationThreshold).To(BeNumerically("~", 0.3))
		Expect(gpu.AutoscalingOptions.ScaleDownUnneededTime.Duration).To(Equal(20 * time.Minute))
		Expect(*gpu.AutoscalingOptions.ZeroOrMaxNodeScaling).To(BeFalse())
		Expect(gpu.AutoscalingOptions.ScaleDownUnreadyTime).To(BeNil())

		cpu := cfg.NodeGroups["cpu"]
		Expect(cpu.Location).To(Equal("FIN-03"))
		Expect(cpu.Contract).To(Equal(config.ContractSpot))
		Expect(cpu.Pricing).To(Equal(config.PricingFixed))
		Expect(cpu.Labels).ToNot(BeNil())
	})
	It("should order groups by id", func() {
		cfg := lo.Must(config.Parse([]byte(valid)))
		Expect(lo.Map(cfg.Groups(), func(g *config.NodeGroup, _ int) string { return g.ID })).To(Equal([]string{"cpu", "gpu-workers"}))
	})
	It("should load from a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte(valid), 0o600)).To(Succeed())
		cfg, err := config.Load(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Kubernetes.Endpoint).To(Equal("https://10.0.0.1:6443"))
	})
	It("should fail to load a missing file", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})
	It("should reject unknown fields", func() {
		_, err := config.Parse([]byte(valid + "\nunknown: true\n"))
		Expect(err).To(HaveOccurred())
	})
	It("should require at least one node group", func() {
		_, err := config.Parse([]byte("nodeGroups: {}\n"))
		Expect(err).To(MatchError(ContainSubstring("at least one node group")))
	})
	It("should require kubernetes settings when a group renders its startup script", func() {
		_, err := config.Parse([]byte(`
nodeGroups:
  gpu:
    instanceType: 1V100.6V
    image: ubuntu
    maxSize: 1
`))
		Expect(err).To(MatchError(ContainSubstring("kubernetes.endpoint")))
	})
	It("should not require kubernetes settings when every group names a startup script", func() {
		_, err := config.Parse([]byte(`
nodeGroups:
  gpu:
    instanceType: 1V100.6V
    image: ubuntu
    maxSize: 1
    startupScriptId: script-1
`))
		Expect(err).ToNot(HaveOccurred())
	})

	Context("Validation", func() {
		var ng *config.NodeGroup
		BeforeEach(func() {
			ng = &config.NodeGroup{
				ID:           "gpu-workers",
				InstanceType: "1V100.6V",
				Image:        "ubuntu",
				MaxSize:      3,
				Location:     config.DefaultLocation,
				Contract:     config.DefaultContract,
				Pricing:      config.DefaultPricingModel,
			}
		})
		It("should accept a valid node group", func() {
			Expect(ng.Validate()).To(Succeed())
		})
		It("should report every problem", func() {
			ng.ID = "GPU_Workers"
			ng.MinSize = 5
			ng.Location = "MARS-01"
			ng.Contract = "FOREVER"
			ng.HourlyPrice = -1
			err := ng.Validate()
			Expect(multierr.Errors(err)).To(HaveLen(5))
		})
		DescribeTable("should reject invalid values",
			func(mutate func(*config.NodeGroup), substring string) {
				mutate(ng)
				Expect(ng.Validate()).To(MatchError(ContainSubstring(substring)))
			},
			Entry("negative min size", func(n *config.NodeGroup) { n.MinSize = -1 }, "minSize cannot be negative"),
			Entry("zero max size", func(n *config.NodeGroup) { n.MaxSize = 0 }, "maxSize must be greater than zero"),
			Entry("min above max", func(n *config.NodeGroup) { n.MinSize = 4 }, "cannot exceed maxSize"),
			Entry("missing instance type", func(n *config.NodeGroup) { n.InstanceType = "" }, "instanceType is required"),
			Entry("missing image", func(n *config.NodeGroup) { n.Image = "" }, "image is required"),
			Entry("unknown pricing", func(n *config.NodeGroup) { n.Pricing = "FREE" }, "pricing"),
			Entry("invalid label key", func(n *config.NodeGroup) { n.Labels = map[string]string{"bad key": "v"} }, "label key"),
			Entry("invalid label value", func(n *config.NodeGroup) { n.Labels = map[string]string{"team": "a,b"} }, "value"),
			Entry("restricted label", func(n *config.NodeGroup) { n.Labels = map[string]string{"node.kubernetes.io/instance-type": "x"} }, "restricted"),
			Entry("provider label", func(n *config.NodeGroup) { n.Labels = map[string]string{"team.verda.com/gpu": "x"} }, "restricted"),
			Entry("empty resources", func(n *config.NodeGroup) { n.Resources = &config.Resources{} }, "resources.cpu"),
			Entry("threshold above one", func(n *config.NodeGroup) {
				n.AutoscalingOptions = &config.AutoscalingOptions{ScaleDownUtilizationThreshold: lo.ToPtr(1.5)}
			}, "scaleDownUtilizationThreshold"),
		)
	})
})
