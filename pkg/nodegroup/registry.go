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
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/metrics"
)

// Group pairs a node group's configuration with its current snapshot. Mutating operations hold sem for
// their whole duration, including cloud calls; mu only guards the swap of the snapshot pointer.
type Group struct {
	Config *config.NodeGroup

	sem   *semaphore.Weighted
	mu    sync.Mutex
	state atomic.Pointer[State]
	// reported holds the ids of errored records that have been returned by Nodes since their error was attached
	reported sync.Map
}

func newGroup(ng *config.NodeGroup) *Group {
	g := &Group{Config: ng, sem: semaphore.NewWeighted(1)}
	g.state.Store((&State{Instances: map[string]*InstanceRecord{}, TargetSize: ng.MinSize}).seal())
	return g
}

// Snapshot returns the current immutable state of the group
func (g *Group) Snapshot() *State {
	return g.state.Load()
}

func (g *Group) markReported(records []*InstanceRecord) {
	for _, r := range records {
		if r.Errored() {
			g.reported.Store(r.ID, struct{}{})
		}
	}
}

func (g *Group) wasReported(id string) bool {
	_, ok := g.reported.Load(id)
	return ok
}

// Registry holds the configured node groups and a reverse index from providerID to group id. The
// index is rebuilt and swapped whenever any group publishes a new snapshot.
type Registry struct {
	groups map[string]*Group
	ids    []string

	indexMu sync.Mutex
	index   atomic.Pointer[map[string]string]
}

func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		groups: lo.SliceToMap(cfg.Groups(), func(ng *config.NodeGroup) (string, *Group) { return ng.ID, newGroup(ng) }),
	}
	r.ids = lo.Keys(r.groups)
	sort.Strings(r.ids)
	r.index.Store(&map[string]string{})
	return r
}

// Lookup returns the group with the given id
func (r *Registry) Lookup(id string) (*Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, cloudprovider.NewNotFoundError(fmt.Errorf("node group %q", id))
	}
	return g, nil
}

// List returns the ids of every configured group in lexical order
func (r *Registry) List() []string {
	return r.ids
}

// Groups returns every configured group ordered by id
func (r *Registry) Groups() []*Group {
	return lo.Map(r.ids, func(id string, _ int) *Group { return r.groups[id] })
}

// GroupForProviderID resolves a providerID through the reverse index
func (r *Registry) GroupForProviderID(providerID string) (string, error) {
	if _, err := cloudprovider.ParseProviderID(providerID); err != nil {
		return "", err
	}
	id, ok := (*r.index.Load())[providerID]
	if !ok {
		return "", cloudprovider.NewNotFoundError(fmt.Errorf("no node group owns %q", providerID))
	}
	return id, nil
}

// groupForHostname attributes an instance the group has never seen to the group whose id is the longest
// "<id>-" prefix of its hostname
func (r *Registry) groupForHostname(hostname string) (*Group, bool) {
	var match *Group
	for _, id := range r.ids {
		if strings.HasPrefix(hostname, id+"-") && (match == nil || len(id) > len(match.Config.ID)) {
			match = r.groups[id]
		}
	}
	return match, match != nil
}

// publish swaps a group's snapshot and rebuilds the reverse index. Callers hold g.mu.
func (r *Registry) publish(g *Group, next *State) {
	g.state.Store(next)
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	index := map[string]string{}
	for _, id := range r.ids {
		for _, rec := range r.groups[id].Snapshot().Records() {
			index[rec.ProviderID] = id
		}
	}
	r.index.Store(&index)
	recordMetrics(g.Config.ID, next)
}

func recordMetrics(id string, s *State) {
	metrics.NodeGroupTargetSize.With(map[string]string{metrics.NodeGroupLabel: id}).Set(float64(s.TargetSize))
	counts := lo.CountValuesBy(s.Records(), func(r *InstanceRecord) InstanceState { return r.State })
	for _, state := range InstanceStates {
		metrics.NodeGroupInstances.With(map[string]string{
			metrics.NodeGroupLabel: id,
			metrics.StateLabel:     string(state),
		}).Set(float64(counts[state]))
	}
}
