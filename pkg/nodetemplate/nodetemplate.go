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

// Package nodetemplate builds the synthetic node the autoscaler simulates when it considers scaling a group up
// from zero.
package nodetemplate

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	apisv1 "github.com/verda-cloud/verda-cloud-provider/pkg/apis/v1"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/nodegroup"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/instancetype"
	"github.com/verda-cloud/verda-cloud-provider/pkg/utils/resources"
)

const (
	minMemoryReserved = int64(512 * 1024 * 1024)
	maxCPUReserved    = int64(100)
)

type Builder struct {
	registry      *nodegroup.Registry
	instanceTypes *instancetype.Provider
}

func NewBuilder(registry *nodegroup.Registry, instanceTypes *instancetype.Provider) *Builder {
	return &Builder{registry: registry, instanceTypes: instanceTypes}
}

// Build returns the template node of a group. Two calls against the same catalog return equal nodes.
func (b *Builder) Build(ctx context.Context, id string) (*v1.Node, error) {
	g, err := b.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	spec, err := b.instanceTypes.Get(ctx).Get(g.Config.InstanceType)
	if err != nil {
		return nil, fmt.Errorf("building template for node group %s, %w", id, err)
	}
	return Node(g.Config, spec), nil
}

// Node builds the template node for a group running on the given instance type
func Node(ng *config.NodeGroup, spec *instancetype.Spec) *v1.Node {
	name := ng.ID + "-template"
	capacity := Capacity(spec)
	return &v1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: Labels(ng, spec, name),
		},
		Spec: v1.NodeSpec{
			ProviderID: cloudprovider.ProviderID(name),
		},
		Status: v1.NodeStatus{
			Capacity:    capacity,
			Allocatable: Allocatable(capacity),
			Conditions: []v1.NodeCondition{{
				Type:   v1.NodeReady,
				Status: v1.ConditionTrue,
				Reason: "KubeletReady",
			}},
		},
	}
}

func Labels(ng *config.NodeGroup, spec *instancetype.Spec, hostname string) map[string]string {
	labels := lo.Assign(ng.Labels, map[string]string{
		v1.LabelInstanceTypeStable:  ng.InstanceType,
		v1.LabelTopologyZone:        ng.Location,
		v1.LabelTopologyRegion:      apisv1.RegionFor(ng.Location),
		v1.LabelOSStable:            apisv1.OSLinux,
		v1.LabelArchStable:          apisv1.ArchitectureAmd64,
		v1.LabelHostname:            hostname,
		apisv1.NodeGroupLabelKey:    ng.ID,
		apisv1.CapacityTypeLabelKey: lo.Ternary(ng.Contract == config.ContractSpot, apisv1.CapacityTypeSpot, apisv1.CapacityTypeOnDemand),
	})
	if spec.GPUCount > 0 {
		labels[apisv1.GPULabelKey] = spec.GPULabelValue
	}
	return labels
}

// Capacity is the resources the instance type reports
func Capacity(spec *instancetype.Spec) v1.ResourceList {
	capacity := v1.ResourceList{
		v1.ResourceCPU:    *resource.NewMilliQuantity(spec.CPUCount*1000, resource.DecimalSI),
		v1.ResourceMemory: *resource.NewQuantity(spec.MemoryBytes, resource.BinarySI),
		v1.ResourcePods:   *resource.NewQuantity(apisv1.MaxPods, resource.DecimalSI),
	}
	if spec.GPUCount > 0 {
		capacity[resources.GPU] = *resource.NewQuantity(spec.GPUCount, resource.DecimalSI)
	}
	return capacity
}

// Allocatable reserves min(100m, 6%) of cpu and max(0.5Gi, 5%) of memory for the system
func Allocatable(capacity v1.ResourceList) v1.ResourceList {
	allocatable := capacity.DeepCopy()
	cpu := capacity.Cpu().MilliValue()
	memory := capacity.Memory().Value()
	allocatable[v1.ResourceCPU] = *resource.NewMilliQuantity(cpu-min(maxCPUReserved, cpu*6/100), resource.DecimalSI)
	allocatable[v1.ResourceMemory] = *resource.NewQuantity(max(0, memory-max(minMemoryReserved, memory*5/100)), resource.BinarySI)
	return allocatable
}
