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

package v1

import (
	"strings"

	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis"
)

// Well known labels and resources
const (
	ArchitectureAmd64    = "amd64"
	OSLinux              = "linux"
	CapacityTypeSpot     = "spot"
	CapacityTypeOnDemand = "on-demand"
	MaxPods              = 110
)

// Verda specific domains and labels
const (
	GPULabelKey          = apis.Group + "/gpu"
	NodeGroupLabelKey    = apis.Group + "/nodegroup"
	CapacityTypeLabelKey = apis.Group + "/capacity-type"
)

var (
	// RestrictedLabels are set on every template node and cannot be configured on a node group
	RestrictedLabels = sets.New(
		GPULabelKey,
		NodeGroupLabelKey,
		CapacityTypeLabelKey,
		v1.LabelInstanceTypeStable,
		v1.LabelTopologyZone,
		v1.LabelTopologyRegion,
		v1.LabelOSStable,
		v1.LabelArchStable,
		v1.LabelHostname,
	)
)

// IsRestrictedLabel reports whether the label is set by the provider on every node
func IsRestrictedLabel(key string) bool {
	return RestrictedLabels.Has(key) || (strings.Contains(key, "/") && strings.HasSuffix(strings.Split(key, "/")[0], apis.Group))
}

// RegionFor returns the region of a location, e.g. FIN-01 -> FIN
func RegionFor(location string) string {
	region, _, _ := strings.Cut(location, "-")
	return region
}
