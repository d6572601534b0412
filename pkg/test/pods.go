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
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PodOptions customizes a Pod.
type PodOptions struct {
	metav1.ObjectMeta
	Image                string
	NodeSelector         map[string]string
	ResourceRequirements v1.ResourceRequirements
	InitContainers       []v1.Container
	Overhead             v1.ResourceList
}

// Pod creates a test pod with defaults that can be overridden by overrides.
// Overrides are applied in order, with a last write wins semantic.
func Pod(overrides ...PodOptions) *v1.Pod {
	options := PodOptions{}
	for _, opts := range overrides {
		if err := mergo.Merge(&options, opts, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("failed to merge pod options: %s", err))
		}
	}
	if options.Name == "" {
		options.Name = "pod-" + strings.ToLower(uuid.NewString()[:8])
	}
	if options.Namespace == "" {
		options.Namespace = "default"
	}
	if options.Image == "" {
		options.Image = "registry.k8s.io/pause"
	}
	return &v1.Pod{
		ObjectMeta: options.ObjectMeta,
		Spec: v1.PodSpec{
			NodeSelector:   options.NodeSelector,
			InitContainers: options.InitContainers,
			Containers: []v1.Container{{
				Name:      strings.ToLower(uuid.NewString()[:8]),
				Image:     options.Image,
				Resources: options.ResourceRequirements,
			}},
			Overhead: options.Overhead,
		},
	}
}
