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

package test

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"github.com/samber/lo"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
)

// RandomName returns a node group id that is a valid DNS label
func RandomName() string {
	return "ng-" + strings.ToLower(uuid.NewString()[:8])
}

// NodeGroup creates a test node group with defaults that can be overridden by overrides.
// Overrides are applied in order, with a last write wins semantic.
func NodeGroup(overrides ...config.NodeGroup) *config.NodeGroup {
	override := config.NodeGroup{}
	for _, opts := range overrides {
		if err := mergo.Merge(&override, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("failed to merge: %v", err))
		}
	}
	if override.ID == "" {
		override.ID = RandomName()
	}
	if override.InstanceType == "" {
		override.InstanceType = "1V100.6V"
	}
	if override.Image == "" {
		override.Image = "ubuntu-22.04-cuda-12.0-docker"
	}
	if override.MaxSize == 0 {
		override.MaxSize = 10
	}
	if override.Location == "" {
		override.Location = config.DefaultLocation
	}
	if override.Contract == "" {
		override.Contract = config.DefaultContract
	}
	if override.Pricing == "" {
		override.Pricing = config.DefaultPricingModel
	}
	if override.Labels == nil {
		override.Labels = map[string]string{}
	}
	return &override
}

// Config wraps node groups in a document carrying test cluster settings
func Config(groups ...*config.NodeGroup) *config.Config {
	return &config.Config{
		NodeGroups: lo.SliceToMap(groups, func(ng *config.NodeGroup) (string, *config.NodeGroup) { return ng.ID, ng }),
		Kubernetes: config.Kubernetes{
			Endpoint: "https://10.0.0.1:6443",
			Token:    "abcdef.0123456789abcdef",
			CAHash:   "sha256:0123456789abcdef",
		},
	}
}
