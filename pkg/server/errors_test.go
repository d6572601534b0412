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

package server

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

var _ = Describe("grpcError", func() {
	It("should pass nil through", func() {
		Expect(grpcError(nil)).To(Succeed())
	})
	DescribeTable("should map errors to status codes",
		func(err error, code codes.Code) {
			Expect(status.Code(grpcError(err))).To(Equal(code))
		},
		Entry("not found", cloudprovider.NewNotFoundError(fmt.Errorf("node group %q", "x")), codes.NotFound),
		Entry("not found from the cloud", cloudprovider.NewNotFoundError(cloudprovider.NewCloudOperationFailedError(fmt.Errorf("404"), "not_found", "", cloudprovider.ErrorClassOther)), codes.Internal),
		Entry("invalid argument", cloudprovider.NewInvalidArgumentError(fmt.Errorf("bad delta")), codes.InvalidArgument),
		Entry("stale", cloudprovider.NewStaleError(fmt.Errorf("waiting for refresh, %w", context.Canceled)), codes.Unavailable),
		Entry("canceled", fmt.Errorf("waiting for instance creation, %w", context.Canceled), codes.Canceled),
		Entry("deadline", fmt.Errorf("waiting for node group, %w", context.DeadlineExceeded), codes.DeadlineExceeded),
		Entry("cloud failure", cloudprovider.NewCloudOperationFailedError(fmt.Errorf("boom"), "no_capacity", "sold out", cloudprovider.ErrorClassOutOfResources), codes.Internal),
		Entry("combined cloud failures", multierr.Combine(
			fmt.Errorf("creating instance, %w", cloudprovider.NewCloudOperationFailedError(fmt.Errorf("boom"), "no_capacity", "sold out", cloudprovider.ErrorClassOutOfResources)),
			fmt.Errorf("creating instance, %w", fmt.Errorf("connection reset")),
		), codes.Internal),
		Entry("unknown", fmt.Errorf("something else"), codes.Internal),
		Entry("already a status", status.Error(codes.ResourceExhausted, "slow down"), codes.ResourceExhausted),
	)
	It("should carry the cloud's code, message and class", func() {
		err := grpcError(cloudprovider.NewCloudOperationFailedError(fmt.Errorf("boom"), "no_capacity", "sold out", cloudprovider.ErrorClassOutOfResources))
		Expect(status.Convert(err).Message()).To(ContainSubstring(`code=no_capacity message="sold out" class=1`))
	})
})
