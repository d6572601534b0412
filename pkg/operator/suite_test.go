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

package operator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/samber/lo"

	"github.com/verda-cloud/verda-cloud-provider/pkg/operator"
	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/verda"
	"github.com/verda-cloud/verda-cloud-provider/pkg/test"
	. "github.com/verda-cloud/verda-cloud-provider/pkg/utils/testing"
)

const nodeGroups = `
nodeGroups:
  gpu-workers:
    instanceType: 1V100.6V
    image: ubuntu-22.04-cuda-12.0-docker
    maxSize: 10
    hourlyPrice: 0.60
  cpu-workers:
    instanceType: CPU.4V.16G
    image: ubuntu-22.04
    minSize: 1
    maxSize: 3
kubernetes:
  endpoint: https://10.0.0.1:6443
  token: abcdef.0123456789abcdef
  caHash: sha256:deadbeef
`

var ctx context.Context
var api *ghttp.Server
var configPath string

func TestOperator(t *testing.T) {
	ctx = TestContextWithLogger(t)
	RegisterFailHandler(Fail)
	RunSpecs(t, "Operator")
}

func operatorContext(overrides ...test.OptionsFields) context.Context {
	return options.ToContext(ctx, test.Options(append([]test.OptionsFields{{
		ConfigPath:        lo.ToPtr(configPath),
		Port:              lo.ToPtr(0),
		MetricsPort:       lo.ToPtr(0),
		VerdaAPIURL:       lo.ToPtr(api.URL() + "/v1"),
		VerdaClientID:     lo.ToPtr("client"),
		VerdaClientSecret: lo.ToPtr("secret"),
	}}, overrides...)...))
}

func listRequests() int {
	return lo.CountBy(api.ReceivedRequests(), func(r *http.Request) bool {
		return r.Method == http.MethodGet && r.URL.Path == "/v1/instances"
	})
}

var _ = BeforeEach(func() {
	api = ghttp.NewServer()
	api.SetAllowUnhandledRequests(true)
	api.RouteToHandler(http.MethodPost, "/v1/oauth2/token", ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
		"access_token": "token-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}))
	api.RouteToHandler(http.MethodGet, "/v1/instances", ghttp.RespondWithJSONEncoded(http.StatusOK, []interface{}{}))
	api.RouteToHandler(http.MethodGet, "/v1/instance-types", ghttp.RespondWithJSONEncoded(http.StatusOK, []interface{}{}))
	configPath = filepath.Join(GinkgoT().TempDir(), "config.yaml")
	Expect(os.WriteFile(configPath, []byte(nodeGroups), 0o600)).To(Succeed())
})

var _ = AfterEach(func() {
	api.Close()
})

var _ = Describe("Operator", func() {
	Context("NewOperator", func() {
		It("should load the configured node groups", func() {
			op, err := operator.NewOperator(operatorContext())
			Expect(err).ToNot(HaveOccurred())
			Expect(op.Engine.Registry().List()).To(Equal([]string{"cpu-workers", "gpu-workers"}))
			Expect(op.Config.NodeGroups).To(HaveKey("gpu-workers"))
		})
		It("should fail when the config cannot be read", func() {
			_, err := operator.NewOperator(operatorContext(test.OptionsFields{ConfigPath: lo.ToPtr(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))}))
			Expect(err).To(MatchError(ContainSubstring("reading config")))
		})
		It("should fail without credentials", func() {
			ctx := options.ToContext(ctx, test.Options(test.OptionsFields{ConfigPath: lo.ToPtr(configPath)}))
			_, err := operator.NewOperator(ctx)
			Expect(err).To(MatchError(ContainSubstring(options.ClientIDEnvVar)))
		})
		It("should fail when the startup script template cannot be read", func() {
			_, err := operator.NewOperator(operatorContext(test.OptionsFields{StartupScriptTemplate: lo.ToPtr(filepath.Join(GinkgoT().TempDir(), "missing.tmpl"))}))
			Expect(err).To(MatchError(ContainSubstring("reading startup script template")))
		})
		It("should fail when the startup script template does not parse", func() {
			path := filepath.Join(GinkgoT().TempDir(), "bootstrap.tmpl")
			Expect(os.WriteFile(path, []byte("{{ .Endpoint"), 0o600)).To(Succeed())
			_, err := operator.NewOperator(operatorContext(test.OptionsFields{StartupScriptTemplate: lo.ToPtr(path)}))
			Expect(err).To(MatchError(ContainSubstring("parsing startup script template")))
		})
	})
	Context("MetricsHandler", func() {
		var handler http.Handler
		get := func(path string) *httptest.ResponseRecorder {
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
			return recorder
		}
		BeforeEach(func() {
			op, err := operator.NewOperator(operatorContext())
			Expect(err).ToNot(HaveOccurred())
			handler = op.MetricsHandler(false)
		})
		It("should serve probes", func() {
			Expect(get("/healthz").Code).To(Equal(http.StatusOK))
			Expect(get("/readyz").Code).To(Equal(http.StatusOK))
			Expect(get("/readyz/ping").Code).To(Equal(http.StatusOK))
		})
		It("should serve grpc metrics", func() {
			recorder := get("/metrics")
			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Body.String()).To(ContainSubstring("grpc_server_started_total"))
		})
		It("should only serve pprof when profiling is enabled", func() {
			Expect(get("/debug/pprof/").Code).To(Equal(http.StatusNotFound))
			op, err := operator.NewOperator(operatorContext())
			Expect(err).ToNot(HaveOccurred())
			handler = op.MetricsHandler(true)
			Expect(get("/debug/pprof/").Code).To(Equal(http.StatusOK))
		})
	})
	Context("Start", func() {
		It("should refresh on start and stop when the context is done", func() {
			ctx, cancel := context.WithCancel(operatorContext())
			defer cancel()
			op, err := operator.NewOperator(ctx, verda.WithRetries(1, time.Millisecond))
			Expect(err).ToNot(HaveOccurred())
			done := make(chan error, 1)
			go func() { done <- op.Start(ctx) }()
			Eventually(listRequests).Should(BeNumerically(">=", 1))
			cancel()
			Eventually(done, 15*time.Second).Should(Receive(BeNil()))
		})
		It("should keep serving when the initial refresh fails", func() {
			api.RouteToHandler(http.MethodGet, "/v1/instances", ghttp.RespondWithJSONEncoded(http.StatusInternalServerError, map[string]string{"code": "internal", "message": "boom"}))
			ctx, cancel := context.WithCancel(operatorContext())
			defer cancel()
			op, err := operator.NewOperator(ctx, verda.WithRetries(1, time.Millisecond))
			Expect(err).ToNot(HaveOccurred())
			done := make(chan error, 1)
			go func() { done <- op.Start(ctx) }()
			Eventually(listRequests).Should(BeNumerically(">=", 1))
			Consistently(done, 200*time.Millisecond).ShouldNot(Receive())
			cancel()
			Eventually(done, 15*time.Second).Should(Receive(BeNil()))
		})
		It("should refresh on the configured schedule", func() {
			ctx, cancel := context.WithCancel(operatorContext(test.OptionsFields{RefreshSchedule: lo.ToPtr("@every 1s")}))
			defer cancel()
			op, err := operator.NewOperator(ctx, verda.WithRetries(1, time.Millisecond))
			Expect(err).ToNot(HaveOccurred())
			done := make(chan error, 1)
			go func() { done <- op.Start(ctx) }()
			Eventually(listRequests, 5*time.Second).Should(BeNumerically(">=", 2))
			cancel()
			Eventually(done, 15*time.Second).Should(Receive(BeNil()))
		})
	})
})
