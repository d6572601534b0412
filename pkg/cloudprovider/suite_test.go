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

package cloudprovider_test

import (
	"context"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

func TestCloudProvider(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CloudProvider Suite")
}

var _ = Describe("Errors", func() {
	It("should support unwrapping for NotFound", func() {
		err := cloudprovider.NewNotFoundError(&BaseError{})
		_, ok := lo.ErrorsAs[*BaseError](err)
		Expect(ok).To(BeTrue())
		Expect(cloudprovider.IsNotFoundError(fmt.Errorf("wrapped, %w", err))).To(BeTrue())
		Expect(cloudprovider.IgnoreNotFoundError(err)).To(Succeed())
	})
	It("should support unwrapping for InvalidArgument", func() {
		err := cloudprovider.NewInvalidArgumentError(&BaseError{})
		_, ok := lo.ErrorsAs[*BaseError](err)
		Expect(ok).To(BeTrue())
		Expect(cloudprovider.IsInvalidArgumentError(err)).To(BeTrue())
		Expect(cloudprovider.IsNotFoundError(err)).To(BeFalse())
	})
	It("should support unwrapping for CloudOperationFailed", func() {
		err := cloudprovider.NewCloudOperationFailedError(&BaseError{}, "no_capacity", "sold out", cloudprovider.ErrorClassOutOfResources)
		_, ok := lo.ErrorsAs[*BaseError](err)
		Expect(ok).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("no_capacity"))
	})
	It("should support unwrapping for Stale", func() {
		err := cloudprovider.NewStaleError(context.Canceled)
		Expect(cloudprovider.IsStaleError(err)).To(BeTrue())
		Expect(err).To(MatchError(context.Canceled))
	})
	It("should classify plain errors as other cloud failures", func() {
		cofErr := cloudprovider.AsCloudOperationFailedError(fmt.Errorf("connection reset"))
		Expect(cofErr.Class).To(Equal(cloudprovider.ErrorClassOther))
		Expect(cofErr.Message).To(Equal("connection reset"))
	})
	It("should find a wrapped cloud failure", func() {
		inner := cloudprovider.NewCloudOperationFailedError(fmt.Errorf("boom"), "code", "msg", cloudprovider.ErrorClassOutOfResources)
		cofErr := cloudprovider.AsCloudOperationFailedError(fmt.Errorf("creating instance, %w", inner))
		Expect(cofErr).To(BeIdenticalTo(inner))
	})
})

var _ = Describe("ProviderID", func() {
	It("should round trip an instance id", func() {
		id, err := cloudprovider.ParseProviderID(cloudprovider.ProviderID("abc-123"))
		Expect(err).ToNot(HaveOccurred())
		Expect(id).To(Equal("abc-123"))
	})
	DescribeTable("should reject foreign providerIDs",
		func(providerID string) {
			_, err := cloudprovider.ParseProviderID(providerID)
			Expect(cloudprovider.IsNotFoundError(err)).To(BeTrue())
		},
		Entry("aws", "aws:///us-east-1a/i-123"),
		Entry("empty", ""),
		Entry("prefix only", "verda://"),
	)
	It("should mark failed statuses", func() {
		Expect(cloudprovider.InstanceStatusNoCapacity.Failed()).To(BeTrue())
		Expect(cloudprovider.InstanceStatusError.Failed()).To(BeTrue())
		Expect(cloudprovider.InstanceStatusProvisioning.Failed()).To(BeFalse())
	})
})

type BaseError struct {
	error
}
