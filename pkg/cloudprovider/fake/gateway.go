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
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

var _ cloudprovider.Gateway = (*Gateway)(nil)

// Gateway is an in-memory cloud. Instances it creates start in CreatedStatus and only change when
// a test calls SetStatus or deletes them.
type Gateway struct {
	mu sync.Mutex

	instances     map[string]*cloudprovider.Instance
	scripts       map[string]*cloudprovider.StartupScript
	InstanceTypes []*cloudprovider.InstanceType
	nextID        int

	// CreateCalls contains the arguments for every create call that was made since it was cleared
	CreateCalls            []*cloudprovider.CreateInstanceRequest
	DeleteCalls            []string
	ListCalls              int
	ListInstanceTypesCalls int
	ScriptCreateCalls      []string
	ScriptDeleteCalls      []string
	AllowedCreateCalls     int
	CreatedStatus          cloudprovider.InstanceStatus
	// DeletedStatus is the status a deleted instance is left in. An empty value removes the instance
	// immediately.
	DeletedStatus cloudprovider.InstanceStatus

	CreateError            error
	ListError              error
	ListInstanceTypesError error
	ScriptError            error
	ScriptCreateError      error
	ScriptDeleteError      error
	DeleteErrors           map[string]error

	// CreateGate, when set, blocks every CreateInstance call after the first UngatedCreates until it is closed
	CreateGate     chan struct{}
	UngatedCreates int
	createAttempts int
	// DeleteGate, when set, blocks every DeleteInstance call until it is closed
	DeleteGate chan struct{}
	// ListGate, when set, blocks every ListInstances call until it is closed. The call is counted before it blocks.
	ListGate chan struct{}
	closed   bool
}

func NewGateway() *Gateway {
	g := &Gateway{}
	g.Reset()
	return g
}

// Reset is for BeforeEach calls in testing to reset the tracking of calls and the cloud contents
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instances = map[string]*cloudprovider.Instance{}
	g.scripts = map[string]*cloudprovider.StartupScript{}
	g.InstanceTypes = DefaultInstanceTypes()
	g.nextID = 0
	g.CreateCalls = nil
	g.DeleteCalls = nil
	g.ListCalls = 0
	g.ListInstanceTypesCalls = 0
	g.ScriptCreateCalls = nil
	g.ScriptDeleteCalls = nil
	g.AllowedCreateCalls = math.MaxInt
	g.CreatedStatus = cloudprovider.InstanceStatusProvisioning
	g.DeletedStatus = ""
	g.CreateError = nil
	g.ListError = nil
	g.ListInstanceTypesError = nil
	g.ScriptError = nil
	g.ScriptCreateError = nil
	g.ScriptDeleteError = nil
	g.DeleteErrors = map[string]error{}
	g.CreateGate = nil
	g.UngatedCreates = 0
	g.createAttempts = 0
	g.DeleteGate = nil
	g.ListGate = nil
	g.closed = false
}

func (g *Gateway) CreateInstance(_ context.Context, req *cloudprovider.CreateInstanceRequest) (*cloudprovider.Instance, error) {
	g.mu.Lock()
	g.createAttempts++
	gate := lo.Ternary(g.createAttempts > g.UngatedCreates, g.CreateGate, nil)
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.CreateCalls = append(g.CreateCalls, req)
	if g.CreateError != nil {
		return nil, g.CreateError
	}
	if len(g.CreateCalls) > g.AllowedCreateCalls {
		return nil, cloudprovider.NewCloudOperationFailedError(fmt.Errorf("erroring as number of AllowedCreateCalls has been exceeded"),
			"no_capacity", "no capacity available", cloudprovider.ErrorClassOutOfResources)
	}
	g.nextID++
	instance := &cloudprovider.Instance{
		ID:           fmt.Sprintf("i-%04d", g.nextID),
		Hostname:     req.Hostname,
		Description:  req.Description,
		InstanceType: req.InstanceType,
		Image:        req.Image,
		Location:     req.Location,
		Status:       g.CreatedStatus,
		IsSpot:       req.Contract == "SPOT",
		CreatedAt:    time.Unix(int64(g.nextID), 0),
	}
	g.instances[instance.ID] = instance
	return lo.ToPtr(*instance), nil
}

func (g *Gateway) ListInstances(context.Context) ([]*cloudprovider.Instance, error) {
	g.mu.Lock()
	g.ListCalls++
	gate := g.ListGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ListError != nil {
		return nil, g.ListError
	}
	instances := lo.MapToSlice(g.instances, func(_ string, i *cloudprovider.Instance) *cloudprovider.Instance {
		return lo.ToPtr(*i)
	})
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances, nil
}

func (g *Gateway) DeleteInstance(_ context.Context, id string) error {
	g.mu.Lock()
	gate := g.DeleteGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.DeleteCalls = append(g.DeleteCalls, id)
	if err, ok := g.DeleteErrors[id]; ok {
		return err
	}
	instance, ok := g.instances[id]
	if !ok {
		return cloudprovider.NewNotFoundError(fmt.Errorf("instance %q", id))
	}
	if g.DeletedStatus == "" {
		delete(g.instances, id)
		return nil
	}
	instance.Status = g.DeletedStatus
	return nil
}

func (g *Gateway) ListInstanceTypes(context.Context) ([]*cloudprovider.InstanceType, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ListInstanceTypesCalls++
	if g.ListInstanceTypesError != nil {
		return nil, g.ListInstanceTypesError
	}
	return lo.Map(g.InstanceTypes, func(it *cloudprovider.InstanceType, _ int) *cloudprovider.InstanceType {
		return lo.ToPtr(*it)
	}), nil
}

func (g *Gateway) ListStartupScripts(context.Context) ([]*cloudprovider.StartupScript, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ScriptError != nil {
		return nil, g.ScriptError
	}
	scripts := lo.Values(g.scripts)
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return lo.Map(scripts, func(s *cloudprovider.StartupScript, _ int) *cloudprovider.StartupScript { return lo.ToPtr(*s) }), nil
}

func (g *Gateway) CreateStartupScript(_ context.Context, name, script string) (*cloudprovider.StartupScript, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ScriptCreateCalls = append(g.ScriptCreateCalls, name)
	if err := lo.CoalesceOrEmpty(g.ScriptCreateError, g.ScriptError); err != nil {
		return nil, err
	}
	g.nextID++
	s := &cloudprovider.StartupScript{ID: fmt.Sprintf("s-%04d", g.nextID), Name: name, Script: script}
	g.scripts[s.ID] = s
	return lo.ToPtr(*s), nil
}

func (g *Gateway) DeleteStartupScript(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ScriptDeleteCalls = append(g.ScriptDeleteCalls, id)
	if err := lo.CoalesceOrEmpty(g.ScriptDeleteError, g.ScriptError); err != nil {
		return err
	}
	delete(g.scripts, id)
	return nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Closed reports whether Close has been called since the last Reset
func (g *Gateway) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// SetStatus changes the status the cloud reports for an instance
func (g *Gateway) SetStatus(id string, status cloudprovider.InstanceStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if instance, ok := g.instances[id]; ok {
		instance.Status = status
	}
}

// Add places an instance in the cloud without going through CreateInstance, as if it had been
// created before the process started.
func (g *Gateway) Add(instance *cloudprovider.Instance) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instances[instance.ID] = lo.ToPtr(*instance)
}

// Remove drops an instance from the cloud without a delete call
func (g *Gateway) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.instances, id)
}

// AddStartupScript places a startup script in the cloud without recording a create call
func (g *Gateway) AddStartupScript(script *cloudprovider.StartupScript) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[script.ID] = lo.ToPtr(*script)
}

func (g *Gateway) Instances() []*cloudprovider.Instance {
	g.mu.Lock()
	defer g.mu.Unlock()
	instances := lo.MapToSlice(g.instances, func(_ string, i *cloudprovider.Instance) *cloudprovider.Instance {
		return lo.ToPtr(*i)
	})
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances
}

func (g *Gateway) CreateCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.CreateCalls)
}

func (g *Gateway) ListCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ListCalls
}

func (g *Gateway) ListInstanceTypesCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ListInstanceTypesCalls
}

func (g *Gateway) DeleteCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.DeleteCalls)
}
