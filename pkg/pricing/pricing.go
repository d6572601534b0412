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

package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	apisv1 "github.com/verda-cloud/verda-cloud-provider/pkg/apis/v1"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/nodegroup"
	"github.com/verda-cloud/verda-cloud-provider/pkg/nodetemplate"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/instancetype"
	"github.com/verda-cloud/verda-cloud-provider/pkg/utils/resources"
)

// PricedResources are the resources a pod's share of a node is computed from
var PricedResources = []v1.ResourceName{v1.ResourceCPU, v1.ResourceMemory, resources.GPU}

// Calculator prices nodes and pods from the configured groups and the instance type catalog
type Calculator struct {
	registry      *nodegroup.Registry
	instanceTypes *instancetype.Provider
}

func NewCalculator(registry *nodegroup.Registry, instanceTypes *instancetype.Provider) *Calculator {
	return &Calculator{registry: registry, instanceTypes: instanceTypes}
}

// GPULabel is the node label carrying the GPU type
func GPULabel() string {
	return apisv1.GPULabelKey
}

// AvailableGPUTypes describes every GPU type of the catalog. Each value wraps a struct with the first
// instance type offering the GPU, its GPU count and GPU memory.
func (c *Calculator) AvailableGPUTypes(ctx context.Context) (map[string]*anypb.Any, error) {
	gpus := map[string]*anypb.Any{}
	for gpuType, spec := range c.instanceTypes.Get(ctx).GPUTypes() {
		descriptor, err := structpb.NewStruct(map[string]interface{}{
			"instanceType":   spec.Name,
			"gpuCount":       spec.GPUCount,
			"gpuMemoryBytes": spec.GPUMemoryBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("describing gpu type %s, %w", gpuType, err)
		}
		if gpus[gpuType], err = anypb.New(descriptor); err != nil {
			return nil, fmt.Errorf("wrapping gpu type %s, %w", gpuType, err)
		}
	}
	return gpus, nil
}

// NodePrice is the cost of running one node of the group between start and end
func (c *Calculator) NodePrice(ctx context.Context, id string, start, end time.Time) (float64, error) {
	if err := validateWindow(start, end); err != nil {
		return 0, err
	}
	g, err := c.registry.Lookup(id)
	if err != nil {
		return 0, err
	}
	hourly, err := HourlyPrice(g.Config, c.instanceTypes.Get(ctx))
	if err != nil {
		return 0, err
	}
	return hourly * end.Sub(start).Hours(), nil
}

// PodPrice is the pod's share of the node it would be scheduled onto between start and end. The share is the
// largest fraction of cpu, memory or GPUs the pod requests, capped at one node.
func (c *Calculator) PodPrice(ctx context.Context, pod *v1.Pod, start, end time.Time) (float64, error) {
	if err := validateWindow(start, end); err != nil {
		return 0, err
	}
	requests := lo.PickByKeys(resources.Ceiling(pod).Requests, PricedResources)
	candidate, err := c.anticipate(ctx, pod, requests)
	if err != nil {
		return 0, err
	}
	fraction := min(1, resources.Fraction(requests, lo.PickByKeys(candidate.node.Status.Allocatable, PricedResources)))
	return fraction * candidate.hourly * end.Sub(start).Hours(), nil
}

type candidate struct {
	group  *config.NodeGroup
	node   *v1.Node
	hourly float64
}

// anticipate picks the group a pod would land on: the first group (by id) matching the pod's node selector
// that fits the pod, otherwise the cheapest group that fits it.
func (c *Calculator) anticipate(ctx context.Context, pod *v1.Pod, requests v1.ResourceList) (*candidate, error) {
	catalog := c.instanceTypes.Get(ctx)
	selector := labels.SelectorFromSet(pod.Spec.NodeSelector)
	var fitting []*candidate
	for _, g := range c.registry.Groups() {
		spec, err := catalog.Get(g.Config.InstanceType)
		if err != nil {
			continue
		}
		hourly, err := HourlyPrice(g.Config, catalog)
		if err != nil {
			continue
		}
		node := nodetemplate.Node(g.Config, spec)
		if !resources.Fits(requests, node.Status.Allocatable) {
			continue
		}
		cand := &candidate{group: g.Config, node: node, hourly: hourly}
		if selector.Matches(labels.Set(node.Labels)) {
			return cand, nil
		}
		fitting = append(fitting, cand)
	}
	if len(fitting) == 0 {
		return nil, cloudprovider.NewNotFoundError(fmt.Errorf("no node group fits pod %s/%s", pod.Namespace, pod.Name))
	}
	return lo.MinBy(fitting, func(a, b *candidate) bool { return a.hourly < b.hourly }), nil
}

// HourlyPrice is the configured price of the group, or the catalog price of its instance type when none is
// configured. Spot groups are priced at the spot rate.
func HourlyPrice(ng *config.NodeGroup, catalog *instancetype.Catalog) (float64, error) {
	if ng.HourlyPrice > 0 {
		return ng.HourlyPrice, nil
	}
	spec, err := catalog.Get(ng.InstanceType)
	if err != nil {
		return 0, fmt.Errorf("pricing node group %s, %w", ng.ID, err)
	}
	return lo.Ternary(ng.Contract == config.ContractSpot, spec.SpotPrice, spec.OnDemandPrice), nil
}

func validateWindow(start, end time.Time) error {
	if end.Before(start) {
		return cloudprovider.NewInvalidArgumentError(fmt.Errorf("end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339)))
	}
	return nil
}
