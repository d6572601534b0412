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

package nodegroup

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

type InstanceState string

const (
	InstanceStateCreating InstanceState = "Creating"
	InstanceStateRunning  InstanceState = "Running"
	InstanceStateDeleting InstanceState = "Deleting"
	InstanceStateUnknown  InstanceState = "Unknown"
)

var InstanceStates = []InstanceState{InstanceStateCreating, InstanceStateRunning, InstanceStateDeleting, InstanceStateUnknown}

// ErrorInfo is what the autoscaler is told about an instance that failed to come up or to go away
type ErrorInfo struct {
	Code    string
	Message string
	Class   cloudprovider.ErrorClass
}

// InstanceRecord is the engine's view of a single cloud instance. Records are never modified once
// published; a change produces a copy.
type InstanceRecord struct {
	ID         string
	ProviderID string
	Hostname   string
	State      InstanceState
	ErrorInfo  *ErrorInfo
	CreatedAt  time.Time

	// observed is set once a listing has contained the instance
	observed bool
	// errorGeneration is the refresh generation that was current when ErrorInfo was attached
	errorGeneration int64
}

func (r *InstanceRecord) Errored() bool {
	return r.ErrorInfo != nil
}

func (r *InstanceRecord) copy() *InstanceRecord {
	c := *r
	if r.ErrorInfo != nil {
		c.ErrorInfo = lo.ToPtr(*r.ErrorInfo)
	}
	return &c
}

// StateFor maps a cloud status onto the lifecycle the autoscaler understands
func StateFor(status cloudprovider.InstanceStatus) InstanceState {
	switch status {
	case cloudprovider.InstanceStatusRunning:
		return InstanceStateRunning
	case cloudprovider.InstanceStatusProvisioning, cloudprovider.InstanceStatusOffline, cloudprovider.InstanceStatusOrdered,
		cloudprovider.InstanceStatusNew, cloudprovider.InstanceStatusValidating:
		return InstanceStateCreating
	case cloudprovider.InstanceStatusDeleting, cloudprovider.InstanceStatusDiscontinued:
		return InstanceStateDeleting
	case cloudprovider.InstanceStatusError, cloudprovider.InstanceStatusNoCapacity, cloudprovider.InstanceStatusInstallationFailed:
		// failed instances are still holding a slot of the group until the autoscaler deletes them
		return InstanceStateCreating
	default:
		return InstanceStateUnknown
	}
}

// ErrorInfoFor describes a failed provisioning status, or returns nil for a healthy one
func ErrorInfoFor(status cloudprovider.InstanceStatus) *ErrorInfo {
	if !status.Failed() {
		return nil
	}
	return &ErrorInfo{
		Code:    string(status),
		Message: "instance provisioning failed with status " + string(status),
		Class:   lo.Ternary(status == cloudprovider.InstanceStatusNoCapacity, cloudprovider.ErrorClassOutOfResources, cloudprovider.ErrorClassOther),
	}
}

// State is an immutable snapshot of a node group. TargetSize is the declared intent and Instances the
// observation; the two are never derived from one another after the group is initialized.
type State struct {
	TargetSize      int32
	Instances       map[string]*InstanceRecord
	LastRefreshedAt time.Time
	// PendingCreates counts creates in flight plus created instances no listing has shown yet
	PendingCreates int
	// PendingDeletes counts accepted deletes whose instances are still listed
	PendingDeletes int

	initialized bool
	inflight    int
	ordered     []*InstanceRecord
}

// Records returns the instances ordered by id
func (s *State) Records() []*InstanceRecord {
	return s.ordered
}

// Count returns the number of known instances, including those being deleted
func (s *State) Count() int {
	return len(s.Instances)
}

// with returns a copy of the state sharing the untouched records
func (s *State) with(fn func(*State)) *State {
	next := &State{
		TargetSize:      s.TargetSize,
		Instances:       lo.Assign(s.Instances),
		LastRefreshedAt: s.LastRefreshedAt,
		initialized:     s.initialized,
		inflight:        s.inflight,
	}
	fn(next)
	return next.seal()
}

// seal derives the ordered view and the pending counters
func (s *State) seal() *State {
	s.ordered = lo.Values(s.Instances)
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].ID < s.ordered[j].ID })
	s.PendingCreates = s.inflight + lo.CountBy(s.ordered, func(r *InstanceRecord) bool {
		return !r.observed && r.State == InstanceStateCreating
	})
	s.PendingDeletes = lo.CountBy(s.ordered, func(r *InstanceRecord) bool { return r.State == InstanceStateDeleting })
	return s
}
