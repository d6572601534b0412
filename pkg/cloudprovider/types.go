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

package cloudprovider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// ProviderIDPrefix is the scheme every providerID surfaced to the autoscaler carries
	ProviderIDPrefix = "verda://"
)

// Gateway is the set of cloud operations the node group engine depends on. Implementations own
// their own retry policy. Creates and deletes must not be retried blindly as that risks duplicate
// or orphaned instances.
type Gateway interface {
	// CreateInstance launches a single instance and returns it as the cloud first reports it.
	CreateInstance(context.Context, *CreateInstanceRequest) (*Instance, error)
	// ListInstances returns every instance visible to the credentials in use.
	ListInstances(context.Context) ([]*Instance, error)
	// DeleteInstance requests deletion of an instance. A nil error means the cloud accepted it.
	DeleteInstance(context.Context, string) error
	// ListInstanceTypes returns the instance type catalog including GPU shapes and prices.
	ListInstanceTypes(context.Context) ([]*InstanceType, error)
	ListStartupScripts(context.Context) ([]*StartupScript, error)
	CreateStartupScript(ctx context.Context, name, script string) (*StartupScript, error)
	DeleteStartupScript(context.Context, string) error
	// Close releases any connections held by the gateway.
	Close() error
}

// InstanceStatus is the lifecycle status string reported by the cloud.
type InstanceStatus string

const (
	InstanceStatusRunning            InstanceStatus = "running"
	InstanceStatusProvisioning       InstanceStatus = "provisioning"
	InstanceStatusOffline            InstanceStatus = "offline"
	InstanceStatusOrdered            InstanceStatus = "ordered"
	InstanceStatusNew                InstanceStatus = "new"
	InstanceStatusValidating         InstanceStatus = "validating"
	InstanceStatusDeleting           InstanceStatus = "deleting"
	InstanceStatusDiscontinued       InstanceStatus = "discontinued"
	InstanceStatusError              InstanceStatus = "error"
	InstanceStatusNoCapacity         InstanceStatus = "no_capacity"
	InstanceStatusInstallationFailed InstanceStatus = "installation_failed"
	InstanceStatusNotFound           InstanceStatus = "notfound"
	InstanceStatusUnknown            InstanceStatus = "unknown"
)

// Failed reports whether the status means provisioning will never complete.
func (s InstanceStatus) Failed() bool {
	switch s {
	case InstanceStatusError, InstanceStatusNoCapacity, InstanceStatusInstallationFailed:
		return true
	}
	return false
}

type Instance struct {
	ID           string
	Hostname     string
	Description  string
	InstanceType string
	Image        string
	Location     string
	Status       InstanceStatus
	IsSpot       bool
	CreatedAt    time.Time
}

type CreateInstanceRequest struct {
	InstanceType    string
	Image           string
	Hostname        string
	Description     string
	Location        string
	SSHKeyIDs       []string
	StartupScriptID string
	Contract        string
	Pricing         string
}

// InstanceType is the cloud's description of an instance shape.
type InstanceType struct {
	Name          string
	CPUCores      int
	MemoryGB      int
	GPUCount      int
	GPUModel      string
	GPUMemoryGB   int
	OnDemandPrice float64
	SpotPrice     float64
}

type StartupScript struct {
	ID     string
	Name   string
	Script string
}

// ProviderID returns the providerID the autoscaler sees for a cloud instance id
func ProviderID(instanceID string) string {
	return ProviderIDPrefix + instanceID
}

// ParseProviderID extracts the cloud instance id from a providerID
func ParseProviderID(providerID string) (string, error) {
	id, ok := strings.CutPrefix(providerID, ProviderIDPrefix)
	if !ok || id == "" {
		return "", NewNotFoundError(fmt.Errorf("providerID %q is not a verda providerID", providerID))
	}
	return id, nil
}
