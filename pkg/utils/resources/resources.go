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

package resources

import (
	v1 "k8s.io/api/core/v1"
)

// GPU is the extended resource NVIDIA's device plugin advertises
const GPU v1.ResourceName = "nvidia.com/gpu"

// Merge the resources from the variadic into a single v1.ResourceList
func Merge(resources ...v1.ResourceList) v1.ResourceList {
	if len(resources) == 0 {
		return v1.ResourceList{}
	}
	result := make(v1.ResourceList, len(resources[0]))
	for _, resourceList := range resources {
		for resourceName, quantity := range resourceList {
			current := result[resourceName]
			current.Add(quantity)
			result[resourceName] = current
		}
	}
	return result
}

// MaxResources returns the per resource maximum of the lists
func MaxResources(resources ...v1.ResourceList) v1.ResourceList {
	result := v1.ResourceList{}
	for _, resourceList := range resources {
		for resourceName, quantity := range resourceList {
			if current, ok := result[resourceName]; !ok || quantity.Cmp(current) > 0 {
				result[resourceName] = quantity.DeepCopy()
			}
		}
	}
	return result
}

// MergeResourceLimitsIntoRequests returns the container's requests, filling in any resource that only
// carries a limit with that limit. This is what the scheduler does for containers without requests.
func MergeResourceLimitsIntoRequests(container v1.Container) v1.ResourceList {
	ret := v1.ResourceList{}
	for resourceName, quantity := range container.Resources.Requests {
		ret[resourceName] = quantity
	}
	for resourceName, quantity := range container.Resources.Limits {
		if _, ok := ret[resourceName]; !ok {
			ret[resourceName] = quantity
		}
	}
	return ret
}

// Ceiling computes the effective resource requirements for a given Pod:
//   - sidecar containers (restartable init containers) run for the pod's whole life and add to the containers
//   - a regular init container only needs the sidecars started before it
//   - overhead is added on top of the larger of the two
func Ceiling(pod *v1.Pod) v1.ResourceRequirements {
	var initResources v1.ResourceRequirements
	var sidecars v1.ResourceRequirements
	for _, container := range pod.Spec.InitContainers {
		if container.RestartPolicy != nil && *container.RestartPolicy == v1.ContainerRestartPolicyAlways {
			sidecars.Requests = Merge(sidecars.Requests, MergeResourceLimitsIntoRequests(container))
			sidecars.Limits = Merge(sidecars.Limits, container.Resources.Limits)
			initResources.Requests = MaxResources(initResources.Requests, sidecars.Requests)
			initResources.Limits = MaxResources(initResources.Limits, sidecars.Limits)
			continue
		}
		initResources.Requests = MaxResources(initResources.Requests, Merge(MergeResourceLimitsIntoRequests(container), sidecars.Requests))
		initResources.Limits = MaxResources(initResources.Limits, Merge(container.Resources.Limits, sidecars.Limits))
	}
	var resources v1.ResourceRequirements
	for _, container := range pod.Spec.Containers {
		resources.Requests = Merge(resources.Requests, MergeResourceLimitsIntoRequests(container))
		resources.Limits = Merge(resources.Limits, container.Resources.Limits)
	}
	resources.Requests = Merge(resources.Requests, sidecars.Requests)
	resources.Limits = Merge(resources.Limits, sidecars.Limits)
	return v1.ResourceRequirements{
		Requests: Merge(MaxResources(resources.Requests, initResources.Requests), pod.Spec.Overhead),
		Limits:   Merge(MaxResources(resources.Limits, initResources.Limits), pod.Spec.Overhead),
	}
}

// Fits returns true if every resource in candidate is available in total
func Fits(candidate, total v1.ResourceList) bool {
	for resourceName, quantity := range candidate {
		if quantity.IsZero() {
			continue
		}
		available, ok := total[resourceName]
		if !ok || quantity.Cmp(available) > 0 {
			return false
		}
	}
	return true
}

// Fraction returns the largest share of total that candidate claims across resources. Resources total does
// not carry count as a full share.
func Fraction(candidate, total v1.ResourceList) float64 {
	var fraction float64
	for resourceName, quantity := range candidate {
		if quantity.IsZero() {
			continue
		}
		available, ok := total[resourceName]
		if !ok || available.IsZero() {
			return 1
		}
		fraction = max(fraction, quantity.AsApproximateFloat64()/available.AsApproximateFloat64())
	}
	return fraction
}
