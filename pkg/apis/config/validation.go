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

package config

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"

	apisv1 "github.com/verda-cloud/verda-cloud-provider/pkg/apis/v1"
)

// Validate returns every problem in the document rather than the first one found
func (c *Config) Validate() (errs error) {
	if len(c.NodeGroups) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("nodeGroups must contain at least one node group"))
	}
	needsKubernetes := false
	for _, id := range lo.Keys(c.NodeGroups) {
		ng := c.NodeGroups[id]
		if ng == nil {
			errs = multierr.Append(errs, fmt.Errorf("nodeGroups[%s] is empty", id))
			continue
		}
		if err := ng.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("nodeGroups[%s], %w", id, err))
		}
		needsKubernetes = needsKubernetes || ng.StartupScriptID == ""
	}
	if needsKubernetes {
		errs = multierr.Append(errs, c.Kubernetes.Validate())
	}
	return errs
}

func (k Kubernetes) Validate() (errs error) {
	if k.Endpoint == "" {
		errs = multierr.Append(errs, fmt.Errorf("kubernetes.endpoint is required to render startup scripts"))
	}
	if k.Token == "" {
		errs = multierr.Append(errs, fmt.Errorf("kubernetes.token is required to render startup scripts"))
	}
	if k.CAHash == "" {
		errs = multierr.Append(errs, fmt.Errorf("kubernetes.caHash is required to render startup scripts"))
	}
	return errs
}

func (n *NodeGroup) Validate() (errs error) {
	// instance hostnames are <id>-<suffix>
	for _, msg := range validation.IsDNS1123Label(n.ID) {
		errs = multierr.Append(errs, fmt.Errorf("id %q, %s", n.ID, msg))
	}
	if n.InstanceType == "" {
		errs = multierr.Append(errs, fmt.Errorf("instanceType is required"))
	}
	if n.Image == "" {
		errs = multierr.Append(errs, fmt.Errorf("image is required"))
	}
	if n.MinSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("minSize cannot be negative"))
	}
	if n.MaxSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("maxSize must be greater than zero"))
	}
	if n.MinSize > n.MaxSize {
		errs = multierr.Append(errs, fmt.Errorf("minSize %d cannot exceed maxSize %d", n.MinSize, n.MaxSize))
	}
	if n.HourlyPrice < 0 {
		errs = multierr.Append(errs, fmt.Errorf("hourlyPrice cannot be negative"))
	}
	if !lo.Contains(Locations, n.Location) {
		errs = multierr.Append(errs, fmt.Errorf("location %q is not one of %s", n.Location, strings.Join(Locations, ", ")))
	}
	if !lo.Contains(Contracts, n.Contract) {
		errs = multierr.Append(errs, fmt.Errorf("contract %q is not one of %v", n.Contract, Contracts))
	}
	if !lo.Contains(PricingModels, n.Pricing) {
		errs = multierr.Append(errs, fmt.Errorf("pricing %q is not one of %v", n.Pricing, PricingModels))
	}
	for k, v := range n.Labels {
		if apisv1.IsRestrictedLabel(k) {
			errs = multierr.Append(errs, fmt.Errorf("label %q is restricted", k))
		}
		for _, msg := range validation.IsQualifiedName(k) {
			errs = multierr.Append(errs, fmt.Errorf("label key %q, %s", k, msg))
		}
		for _, msg := range validation.IsValidLabelValue(v) {
			errs = multierr.Append(errs, fmt.Errorf("label %q value %q, %s", k, v, msg))
		}
	}
	if n.Resources != nil {
		errs = multierr.Append(errs, n.Resources.Validate())
	}
	if n.AutoscalingOptions != nil {
		errs = multierr.Append(errs, n.AutoscalingOptions.Validate())
	}
	return errs
}

func (r *Resources) Validate() (errs error) {
	if r.CPU <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("resources.cpu must be greater than zero"))
	}
	if r.MemoryGB <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("resources.memoryGb must be greater than zero"))
	}
	if r.GPUCount < 0 {
		errs = multierr.Append(errs, fmt.Errorf("resources.gpuCount cannot be negative"))
	}
	if r.GPUMemoryGB < 0 {
		errs = multierr.Append(errs, fmt.Errorf("resources.gpuMemoryGb cannot be negative"))
	}
	return errs
}

func (a *AutoscalingOptions) Validate() (errs error) {
	for name, threshold := range map[string]*float64{
		"scaleDownUtilizationThreshold":    a.ScaleDownUtilizationThreshold,
		"scaleDownGpuUtilizationThreshold": a.ScaleDownGPUUtilizationThreshold,
	} {
		if threshold != nil && (*threshold < 0 || *threshold > 1) {
			errs = multierr.Append(errs, fmt.Errorf("autoscalingOptions.%s must be between 0 and 1", name))
		}
	}
	for name, d := range map[string]*metav1.Duration{
		"scaleDownUnneededTime": a.ScaleDownUnneededTime,
		"scaleDownUnreadyTime":  a.ScaleDownUnreadyTime,
		"maxNodeProvisionTime":  a.MaxNodeProvisionTime,
	} {
		if d != nil && d.Duration < 0 {
			errs = multierr.Append(errs, fmt.Errorf("autoscalingOptions.%s cannot be negative", name))
		}
	}
	return errs
}
