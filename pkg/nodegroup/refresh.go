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
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/metrics"
	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
)

// Refresh rebuilds every group's snapshot from a single instance listing and blocks until it is done.
// Concurrent callers share one rebuild. A caller whose context ends first gets a StaleError while the
// rebuild carries on for the others.
func (e *Engine) Refresh(ctx context.Context) error {
	result := e.refreshes.DoChan("refresh", func() (interface{}, error) {
		return nil, e.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-result:
		return res.Err
	case <-ctx.Done():
		return cloudprovider.NewStaleError(fmt.Errorf("waiting for refresh, %w", ctx.Err()))
	}
}

func (e *Engine) refresh(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		metrics.RefreshDuration.With(map[string]string{metrics.ResultLabel: metrics.Result(err)}).Observe(time.Since(start).Seconds())
	}()
	instances, err := e.gateway.ListInstances(ctx)
	if err != nil {
		// previous snapshots stay in place so a cloud outage does not look like every node vanished
		return fmt.Errorf("listing instances, %w", err)
	}
	if err := e.instanceTypes.Refresh(ctx); err != nil {
		log.FromContext(ctx).Error(err, "failed refreshing instance types, keeping previous catalog")
	}
	generation := e.generation.Add(1)
	now := e.clk.Now()
	listed := e.attribute(instances)
	for _, g := range e.registry.Groups() {
		e.update(g, func(s *State) { e.reconcile(ctx, g, s, listed[g.Config.ID], generation, now) })
	}
	log.FromContext(ctx).V(1).Info("refreshed node groups", "instances", len(instances), "attributed", lo.Sum(lo.MapToSlice(listed, func(_ string, v []*cloudprovider.Instance) int { return len(v) })))
	return nil
}

// attribute assigns listed instances to groups. Instances a group already tracks stay with it, others are
// matched by hostname prefix. Instances that match no group are not managed by the autoscaler.
func (e *Engine) attribute(instances []*cloudprovider.Instance) map[string][]*cloudprovider.Instance {
	index := *e.registry.index.Load()
	listed := map[string][]*cloudprovider.Instance{}
	for _, instance := range instances {
		if id, ok := index[cloudprovider.ProviderID(instance.ID)]; ok {
			listed[id] = append(listed[id], instance)
			continue
		}
		if g, ok := e.registry.groupForHostname(instance.Hostname); ok {
			listed[g.Config.ID] = append(listed[g.Config.ID], instance)
		}
	}
	return listed
}

// reconcile replaces the group's instances with what the listing shows:
//   - an instance whose delete was accepted stays Deleting until it disappears
//   - an instance the cloud reports as failed is Creating with ErrorInfo
//   - a created instance missing from the listing stays Creating for the visibility grace period
//   - an errored record is kept until Nodes has returned it and a later refresh has run
func (e *Engine) reconcile(ctx context.Context, g *Group, s *State, listed []*cloudprovider.Instance, generation int64, now time.Time) {
	grace := options.FromContext(ctx).InstanceVisibilityGrace
	expired := func(r *InstanceRecord) bool {
		return g.wasReported(r.ID) && generation > r.errorGeneration
	}
	next := make(map[string]*InstanceRecord, len(listed))
	for _, instance := range listed {
		previous, known := s.Instances[instance.ID]
		rec := &InstanceRecord{
			ID:         instance.ID,
			ProviderID: cloudprovider.ProviderID(instance.ID),
			Hostname:   instance.Hostname,
			State:      StateFor(instance.Status),
			CreatedAt:  lo.Ternary(known, lo.FromPtr(previous).CreatedAt, instance.CreatedAt),
			observed:   true,
		}
		if known && previous.State == InstanceStateDeleting {
			rec.State = InstanceStateDeleting
		}
		switch info := ErrorInfoFor(instance.Status); {
		case info != nil && rec.State != InstanceStateDeleting:
			rec.ErrorInfo = info
			rec.errorGeneration = generation
			if known && previous.Errored() && previous.ErrorInfo.Code == info.Code {
				rec.errorGeneration = previous.errorGeneration
			}
		case known && previous.Errored() && !expired(previous):
			rec.ErrorInfo = previous.ErrorInfo
			rec.errorGeneration = previous.errorGeneration
		}
		next[rec.ID] = rec
	}
	for id, previous := range s.Instances {
		if _, ok := next[id]; ok {
			continue
		}
		switch {
		case !previous.observed && previous.State == InstanceStateCreating && now.Sub(previous.CreatedAt) < grace:
			next[id] = previous
		case previous.Errored() && !expired(previous):
			next[id] = previous
		}
	}
	g.reported.Range(func(key, _ any) bool {
		if r, ok := next[key.(string)]; !ok || !r.Errored() {
			g.reported.Delete(key)
		}
		return true
	})
	s.Instances = next
	s.LastRefreshedAt = now
	if !s.initialized {
		// nothing is persisted across restarts, so the first listing seeds the intent
		active := lo.CountBy(lo.Values(next), func(r *InstanceRecord) bool { return r.State != InstanceStateDeleting })
		s.TargetSize = lo.Clamp(int32(active), g.Config.MinSize, g.Config.MaxSize)
		s.initialized = true
		log.FromContext(ctx).WithValues("nodegroup", g.Config.ID).Info("discovered node group", "instances", len(next), "target-size", s.TargetSize)
	}
}
