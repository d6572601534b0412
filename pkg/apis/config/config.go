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
	"os"
	"sort"

	"github.com/samber/lo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

type Contract string

const (
	ContractLongTerm    Contract = "LONG_TERM"
	ContractPayAsYouGo  Contract = "PAY_AS_YOU_GO"
	ContractSpot        Contract = "SPOT"
	DefaultLocation              = "FIN-01"
	DefaultContract              = ContractPayAsYouGo
	DefaultPricingModel          = PricingDynamic
)

type PricingModel string

const (
	PricingFixed   PricingModel = "FIXED_PRICE"
	PricingDynamic PricingModel = "DYNAMIC_PRICE"
)

var (
	Contracts     = []Contract{ContractLongTerm, ContractPayAsYouGo, ContractSpot}
	PricingModels = []PricingModel{PricingFixed, PricingDynamic}
	Locations     = []string{"FIN-01", "FIN-02", "FIN-03", "ICE-01"}
)

// Config is the document enumerating node groups and the cluster new nodes join
type Config struct {
	NodeGroups map[string]*NodeGroup `json:"nodeGroups"`
	Kubernetes Kubernetes            `json:"kubernetes"`
}

type Kubernetes struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
	CAHash   string `json:"caHash"`
}

type NodeGroup struct {
	// ID is populated from the key of the nodeGroups map
	ID              string            `json:"-"`
	InstanceType    string            `json:"instanceType"`
	Image           string            `json:"image"`
	MinSize         int32             `json:"minSize"`
	MaxSize         int32             `json:"maxSize"`
	Location        string            `json:"location,omitempty"`
	SSHKeyIDs       []string          `json:"sshKeyIds,omitempty"`
	StartupScriptID string            `json:"startupScriptId,omitempty"`
	HourlyPrice     float64           `json:"hourlyPrice,omitempty"`
	Contract        Contract          `json:"contract,omitempty"`
	Pricing         PricingModel      `json:"pricing,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	// Resources overrides the shape reported by the cloud for InstanceType
	Resources          *Resources          `json:"resources,omitempty"`
	AutoscalingOptions *AutoscalingOptions `json:"autoscalingOptions,omitempty"`
}

type Resources struct {
	CPU         int    `json:"cpu"`
	MemoryGB    int    `json:"memoryGb"`
	GPUCount    int    `json:"gpuCount,omitempty"`
	GPUModel    string `json:"gpuModel,omitempty"`
	GPUMemoryGB int    `json:"gpuMemoryGb,omitempty"`
}

// AutoscalingOptions are sparse per group overrides. Nil fields inherit the autoscaler's defaults.
type AutoscalingOptions struct {
	ScaleDownUtilizationThreshold    *float64         `json:"scaleDownUtilizationThreshold,omitempty"`
	ScaleDownGPUUtilizationThreshold *float64         `json:"scaleDownGpuUtilizationThreshold,omitempty"`
	ScaleDownUnneededTime            *metav1.Duration `json:"scaleDownUnneededTime,omitempty"`
	ScaleDownUnreadyTime             *metav1.Duration `json:"scaleDownUnreadyTime,omitempty"`
	MaxNodeProvisionTime             *metav1.Duration `json:"maxNodeProvisionTime,omitempty"`
	ZeroOrMaxNodeScaling             *bool            `json:"zeroOrMaxNodeScaling,omitempty"`
	IgnoreDaemonSetsUtilization      *bool            `json:"ignoreDaemonSetsUtilization,omitempty"`
}

// Load reads, defaults and validates the configuration document at path
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q, %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a configuration document, rejecting unknown fields
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, fmt.Errorf("decoding config, %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config, %w", err)
	}
	return cfg, nil
}

func (c *Config) SetDefaults() {
	for id, ng := range c.NodeGroups {
		if ng == nil {
			continue
		}
		ng.ID = id
		ng.Location = lo.Ternary(ng.Location == "", DefaultLocation, ng.Location)
		ng.Contract = lo.Ternary(ng.Contract == "", DefaultContract, ng.Contract)
		ng.Pricing = lo.Ternary(ng.Pricing == "", DefaultPricingModel, ng.Pricing)
		if ng.Labels == nil {
			ng.Labels = map[string]string{}
		}
	}
}

// Groups returns the configured node groups ordered by id
func (c *Config) Groups() []*NodeGroup {
	groups := lo.Values(lo.OmitByValues(c.NodeGroups, []*NodeGroup{nil}))
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}
