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
	"fmt"

	"github.com/imdario/mergo"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/durationpb"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
)

// MergeAutoscalingOptions returns the group's overrides with every unset field taken from the autoscaler's
// defaults. A group without overrides gets the defaults back unchanged.
func MergeAutoscalingOptions(overrides *config.AutoscalingOptions, defaults *protos.NodeGroupAutoscalingOptions) (*protos.NodeGroupAutoscalingOptions, error) {
	merged := lo.FromPtr(overrides)
	// pointers the group set are kept as they are, never written through
	if err := mergo.Merge(&merged, fromProto(defaults), mergo.WithoutDereference); err != nil {
		return nil, fmt.Errorf("merging autoscaling options, %w", err)
	}
	return toProto(&merged), nil
}

func fromProto(o *protos.NodeGroupAutoscalingOptions) config.AutoscalingOptions {
	if o == nil {
		return config.AutoscalingOptions{}
	}
	return config.AutoscalingOptions{
		ScaleDownUtilizationThreshold:    lo.ToPtr(o.GetScaleDownUtilizationThreshold()),
		ScaleDownGPUUtilizationThreshold: lo.ToPtr(o.GetScaleDownGpuUtilizationThreshold()),
		ScaleDownUnneededTime:            duration(o.GetScaleDownUnneededDuration()),
		ScaleDownUnreadyTime:             duration(o.GetScaleDownUnreadyDuration()),
		MaxNodeProvisionTime:             duration(o.GetMaxNodeProvisionDuration()),
		ZeroOrMaxNodeScaling:             lo.ToPtr(o.GetZeroOrMaxNodeScaling()),
		IgnoreDaemonSetsUtilization:      lo.ToPtr(o.GetIgnoreDaemonSetsUtilization()),
	}
}

func toProto(o *config.AutoscalingOptions) *protos.NodeGroupAutoscalingOptions {
	return &protos.NodeGroupAutoscalingOptions{
		ScaleDownUtilizationThreshold:    lo.FromPtr(o.ScaleDownUtilizationThreshold),
		ScaleDownGpuUtilizationThreshold: lo.FromPtr(o.ScaleDownGPUUtilizationThreshold),
		ScaleDownUnneededDuration:        durationProto(o.ScaleDownUnneededTime),
		ScaleDownUnreadyDuration:         durationProto(o.ScaleDownUnreadyTime),
		MaxNodeProvisionDuration:         durationProto(o.MaxNodeProvisionTime),
		ZeroOrMaxNodeScaling:             lo.FromPtr(o.ZeroOrMaxNodeScaling),
		IgnoreDaemonSetsUtilization:      lo.FromPtr(o.IgnoreDaemonSetsUtilization),
	}
}

func duration(d *durationpb.Duration) *metav1.Duration {
	if d == nil {
		return nil
	}
	return &metav1.Duration{Duration: d.AsDuration()}
}

func durationProto(d *metav1.Duration) *durationpb.Duration {
	if d == nil {
		return nil
	}
	return durationpb.New(d.Duration)
}
