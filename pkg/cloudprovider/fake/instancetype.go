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

package fake

import (
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

// DefaultInstanceTypes is a small catalog covering single GPU, multi GPU and CPU only shapes
func DefaultInstanceTypes() []*cloudprovider.InstanceType {
	return []*cloudprovider.InstanceType{
		{
			Name:          "1V100.6V",
			CPUCores:      6,
			MemoryGB:      23,
			GPUCount:      1,
			GPUModel:      "Tesla V100 16GB",
			GPUMemoryGB:   16,
			OnDemandPrice: 0.39,
			SpotPrice:     0.14,
		},
		{
			Name:          "8H100.80S.176V",
			CPUCores:      176,
			MemoryGB:      1480,
			GPUCount:      8,
			GPUModel:      "8x H100 SXM5 80GB",
			GPUMemoryGB:   640,
			OnDemandPrice: 23.92,
			SpotPrice:     7.92,
		},
		{
			Name:          "CPU.4V.16G",
			CPUCores:      4,
			MemoryGB:      16,
			OnDemandPrice: 0.07,
			SpotPrice:     0.03,
		},
	}
}
