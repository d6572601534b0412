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

package instancetype

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

const gib = int64(1024 * 1024 * 1024)

// Spec is the resource shape of an instance type
type Spec struct {
	Name           string
	CPUCount       int64
	MemoryBytes    int64
	GPUCount       int64
	GPUType        string
	GPULabelValue  string
	GPUMemoryBytes int64
	OnDemandPrice  float64
	SpotPrice      float64
}

// Catalog is an immutable snapshot of instance type shapes. A new Catalog is built on every refresh.
type Catalog struct {
	specs map[string]*Spec
}

func NewCatalog(specs ...*Spec) *Catalog {
	return &Catalog{specs: lo.SliceToMap(specs, func(s *Spec) (string, *Spec) { return s.Name, s })}
}

func (c *Catalog) Get(name string) (*Spec, error) {
	spec, ok := c.specs[name]
	if !ok {
		return nil, cloudprovider.NewNotFoundError(fmt.Errorf("instance type %q is not in the catalog", name))
	}
	return spec, nil
}

// List returns every spec ordered by name
func (c *Catalog) List() []*Spec {
	specs := lo.Values(c.specs)
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// GPUTypes maps each GPU type to the first instance type (by name) that carries it
func (c *Catalog) GPUTypes() map[string]*Spec {
	gpus := map[string]*Spec{}
	for _, spec := range c.List() {
		if spec.GPUCount == 0 {
			continue
		}
		if _, ok := gpus[spec.GPUType]; !ok {
			gpus[spec.GPUType] = spec
		}
	}
	return gpus
}

func (c *Catalog) Len() int {
	return len(c.specs)
}

// FromInstanceType converts the cloud's description of an instance type
func FromInstanceType(it *cloudprovider.InstanceType) *Spec {
	spec := &Spec{
		Name:           it.Name,
		CPUCount:       int64(it.CPUCores),
		MemoryBytes:    int64(it.MemoryGB) * gib,
		GPUCount:       int64(it.GPUCount),
		GPUMemoryBytes: int64(it.GPUMemoryGB) * gib,
		OnDemandPrice:  it.OnDemandPrice,
		SpotPrice:      it.SpotPrice,
	}
	if spec.GPUCount > 0 {
		spec.GPUType = GPUTypeFromName(it.Name)
		spec.GPULabelValue = spec.GPUType
	}
	return spec
}

// WithOverride returns a copy of spec with the configured resources applied. Prices are kept.
func WithOverride(name string, spec *Spec, r *config.Resources) *Spec {
	out := &Spec{Name: name}
	if spec != nil {
		out = lo.ToPtr(*spec)
	}
	out.CPUCount = int64(r.CPU)
	out.MemoryBytes = int64(r.MemoryGB) * gib
	out.GPUCount = int64(r.GPUCount)
	out.GPUMemoryBytes = int64(r.GPUMemoryGB) * gib
	out.GPUType, out.GPULabelValue = "", ""
	if out.GPUCount > 0 {
		out.GPUType = lo.Ternary(r.GPUModel != "", r.GPUModel, GPUTypeFromName(name))
		out.GPULabelValue = out.GPUType
	}
	return out
}

// GPUTypeFromName extracts the GPU model from names shaped <count><model>.<cpu>V, e.g. 1V100.6V -> V100.
// CPU only names such as CPU.4V.16G return an empty string.
func GPUTypeFromName(name string) string {
	head, _, _ := strings.Cut(name, ".")
	model := strings.TrimLeftFunc(head, unicode.IsDigit)
	if model == head {
		return ""
	}
	return model
}
