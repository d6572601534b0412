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
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

// grpcError maps engine errors onto gRPC status codes. The order matters: a stale error wraps the
// context error of the caller that gave up, and a cloud 404 is a failed call, not an unknown group or node.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case cloudprovider.IsStaleError(err):
		return status.Error(codes.Unavailable, err.Error())
	case cloudprovider.IsCloudOperationFailedError(err):
		cause := cloudprovider.AsCloudOperationFailedError(err)
		return status.Errorf(codes.Internal, "%s; code=%s message=%q class=%d", err, cause.Code, cause.Message, cause.Class)
	case cloudprovider.IsNotFoundError(err):
		return status.Error(codes.NotFound, err.Error())
	case cloudprovider.IsInvalidArgumentError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
