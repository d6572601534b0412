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

package startupscript_test

import (
	"context"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider/fake"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/startupscript"
	"github.com/verda-cloud/verda-cloud-provider/pkg/test"
)

var ctx context.Context
var gateway *fake.Gateway
var provider *startupscript.Provider
var cfg *config.Config
var ng *config.NodeGroup

func TestStartupScript(t *testing.T) {
	ctx = context.Background()
	RegisterFailHandler(Fail)
	RunSpecs(t, "StartupScript")
}

var _ = BeforeEach(func() {
	gateway = fake.NewGateway()
	ng = test.NodeGroup(config.NodeGroup{ID: "gpu-workers", Labels: map[string]string{"team": "ml", "accelerator": "v100"}})
	cfg = test.Config(ng)
	provider = lo.Must(startupscript.NewProvider(gateway, cfg.Kubernetes, ""))
})

var _ = Describe("StartupScript", func() {
	It("should render cluster settings and sorted labels", func() {
		script, err := provider.Render(ng)
		Expect(err).ToNot(HaveOccurred())
		Expect(script).To(ContainSubstring("kubeadm join https://10.0.0.1:6443"))
		Expect(script).To(ContainSubstring("--token abcdef.0123456789abcdef"))
		Expect(script).To(ContainSubstring("--discovery-token-ca-cert-hash sha256:0123456789abcdef"))
		Expect(script).To(ContainSubstring("--node-labels=accelerator=v100,team=ml"))
		Expect(script).To(ContainSubstring("--provider-id=verda://"))
	})
	It("should fail to parse an invalid template", func() {
		_, err := startupscript.NewProvider(gateway, cfg.Kubernetes, "{{ .Endpoint")
		Expect(err).To(HaveOccurred())
	})
	It("should fail to render unknown fields", func() {
		p := lo.Must(startupscript.NewProvider(gateway, cfg.Kubernetes, "{{ .Missing }}"))
		_, err := p.Render(ng)
		Expect(err).To(HaveOccurred())
	})
	It("should use an explicitly configured script", func() {
		ng.StartupScriptID = "script-1"
		id, err := provider.Ensure(ctx, ng)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).To(Equal("script-1"))
		Expect(gateway.ScriptCreateCalls).To(BeEmpty())
	})
	It("should create a missing script", func() {
		id, err := provider.Ensure(ctx, ng)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).ToNot(BeEmpty())
		Expect(gateway.ScriptCreateCalls).To(Equal([]string{"k8s-verda-init-gpu-workers"}))
	})
	It("should reuse a script with matching content", func() {
		content := lo.Must(provider.Render(ng))
		gateway.AddStartupScript(&cloudprovider.StartupScript{ID: "existing", Name: startupscript.Name(ng.ID), Script: content})
		id, err := provider.Ensure(ctx, ng)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).To(Equal("existing"))
		Expect(gateway.ScriptCreateCalls).To(BeEmpty())
	})
	It("should replace a script whose content changed", func() {
		gateway.AddStartupScript(&cloudprovider.StartupScript{ID: "existing", Name: startupscript.Name(ng.ID), Script: "#!/bin/sh\n"})
		id, err := provider.Ensure(ctx, ng)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).ToNot(Equal("existing"))
		Expect(gateway.ScriptDeleteCalls).To(Equal([]string{"existing"}))
		Expect(gateway.ScriptCreateCalls).To(HaveLen(1))
	})
	It("should keep the outdated script when creating its replacement fails", func() {
		gateway.AddStartupScript(&cloudprovider.StartupScript{ID: "existing", Name: startupscript.Name(ng.ID), Script: "#!/bin/sh\n"})
		gateway.ScriptCreateError = fmt.Errorf("quota exceeded")
		id, err := provider.Ensure(ctx, ng)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).To(Equal("existing"))
		Expect(gateway.ScriptDeleteCalls).To(BeEmpty())

		gateway.ScriptCreateError = nil
		id, err = provider.Ensure(ctx, ng)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).ToNot(Equal("existing"))
		Expect(gateway.ScriptCreateCalls).To(HaveLen(2))
		Expect(gateway.ScriptDeleteCalls).To(Equal([]string{"existing"}))
	})
	It("should use the replacement when deleting the outdated script fails", func() {
		gateway.AddStartupScript(&cloudprovider.StartupScript{ID: "existing", Name: startupscript.Name(ng.ID), Script: "#!/bin/sh\n"})
		gateway.ScriptDeleteError = fmt.Errorf("in use")
		id, err := provider.Ensure(ctx, ng)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).ToNot(Equal("existing"))

		provider.Flush()
		Expect(lo.Must(provider.Ensure(ctx, ng))).To(Equal(id))
		Expect(gateway.ScriptCreateCalls).To(HaveLen(1))
	})
	It("should fail when no script exists and creating one fails", func() {
		gateway.ScriptCreateError = fmt.Errorf("quota exceeded")
		_, err := provider.Ensure(ctx, ng)
		Expect(err).To(HaveOccurred())
	})
	It("should cache the resolved id until the rendered content changes", func() {
		first := lo.Must(provider.Ensure(ctx, ng))
		Expect(lo.Must(provider.Ensure(ctx, ng))).To(Equal(first))
		Expect(gateway.ScriptCreateCalls).To(HaveLen(1))

		ng.Labels["team"] = "research"
		second := lo.Must(provider.Ensure(ctx, ng))
		Expect(second).ToNot(Equal(first))
		Expect(gateway.ScriptCreateCalls).To(HaveLen(2))
		Expect(gateway.ScriptDeleteCalls).To(Equal([]string{first}))
	})
	It("should surface listing failures", func() {
		gateway.ScriptError = fmt.Errorf("unavailable")
		_, err := provider.Ensure(ctx, ng)
		Expect(err).To(HaveOccurred())
	})
})
