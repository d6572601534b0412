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
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/metrics"
	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/instancetype"
	"github.com/verda-cloud/verda-cloud-provider/pkg/providers/startupscript"
)

// Engine reconciles the autoscaler's declared target sizes with the instances the cloud reports.
// Mutations of a group are serialized by the group's semaphore and are independent across groups.
// Reads never take a lock; they observe whichever snapshot was last published.
type Engine struct {
	registry      *Registry
	gateway       cloudprovider.Gateway
	instanceTypes *instancetype.Provider
	scripts       *startupscript.Provider
	clk           clock.Clock

	refreshes singleflight.Group
	// generation counts completed refreshes and orders them against attached errors
	generation atomic.Int64
}

func NewEngine(clk clock.Clock, registry *Registry, gateway cloudprovider.Gateway, instanceTypes *instancetype.Provider, scripts *startupscript.Provider) *Engine {
	return &Engine{
		registry:      registry,
		gateway:       gateway,
		instanceTypes: instanceTypes,
		scripts:       scripts,
		clk:           clk,
	}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// Hostname returns a fresh hostname for an instance of the group. The "<group>-" prefix is what
// attributes instances to their group when the process restarts.
func Hostname(group string) string {
	return fmt.Sprintf("%s-%s", group, strings.ToLower(uuid.NewString()[:8]))
}

func Description(group string) string {
	return "Autoscaler node for " + group
}

// TargetSize returns the declared size of the group
func (e *Engine) TargetSize(ctx context.Context, id string) (int32, error) {
	g, err := e.registry.Lookup(id)
	if err != nil {
		return 0, err
	}
	if err := e.ensureFresh(ctx, g); err != nil {
		return 0, err
	}
	return g.Snapshot().TargetSize, nil
}

// Nodes returns the group's instances ordered by id. The returned records are shared and must not be modified.
func (e *Engine) Nodes(ctx context.Context, id string) ([]*InstanceRecord, error) {
	g, err := e.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	if err := e.ensureFresh(ctx, g); err != nil {
		return nil, err
	}
	records := g.Snapshot().Records()
	g.markReported(records)
	return records, nil
}

// Snapshot returns the group's current state without refreshing it
func (e *Engine) Snapshot(id string) (*State, error) {
	g, err := e.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	return g.Snapshot(), nil
}

// GroupForProviderID resolves the group owning an instance. An unknown but well formed providerID
// triggers a refresh when the cached view is stale, as the instance may have been created since.
func (e *Engine) GroupForProviderID(ctx context.Context, providerID string) (*Group, error) {
	id, err := e.registry.GroupForProviderID(providerID)
	_, malformed := cloudprovider.ParseProviderID(providerID)
	if cloudprovider.IsNotFoundError(err) && malformed == nil && e.stale(ctx) {
		if rerr := e.Refresh(ctx); rerr != nil {
			log.FromContext(ctx).Error(rerr, "failed refreshing node groups", "providerID", providerID)
			return nil, err
		}
		id, err = e.registry.GroupForProviderID(providerID)
	}
	if err != nil {
		return nil, err
	}
	return e.registry.Lookup(id)
}

// IncreaseSize raises the target size by delta and creates delta instances. The target size is published
// before the first create is issued. Creates that fail are not retried; they are reported in the returned
// error and taken back out of the target size.
func (e *Engine) IncreaseSize(ctx context.Context, id string, delta int32) error {
	g, err := e.registry.Lookup(id)
	if err != nil {
		return err
	}
	if delta <= 0 {
		return cloudprovider.NewInvalidArgumentError(fmt.Errorf("size increase must be positive, got %d", delta))
	}
	if err := e.ensureFresh(ctx, g); err != nil {
		return err
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for node group %s, %w", id, err)
	}
	current := g.Snapshot().TargetSize
	// current never exceeds max, so the subtraction cannot overflow where current+delta would
	if delta > g.Config.MaxSize-current {
		g.sem.Release(1)
		return cloudprovider.NewInvalidArgumentError(fmt.Errorf("size increase too large, desired %d max %d", int64(current)+int64(delta), g.Config.MaxSize))
	}
	scriptID, err := e.scripts.Ensure(ctx, g.Config)
	if err != nil {
		g.sem.Release(1)
		return fmt.Errorf("ensuring startup script, %w", err)
	}
	e.update(g, func(s *State) {
		s.TargetSize += delta
		s.inflight += int(delta)
	})
	log.FromContext(ctx).WithValues("nodegroup", id).Info("increasing size", "delta", delta, "target-size", current+delta)

	// creates run to completion and are applied even if the caller goes away
	done := make(chan error, 1)
	go func() {
		defer g.sem.Release(1)
		done <- e.create(context.WithoutCancel(ctx), g, int(delta), scriptID)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for instance creation, %w", ctx.Err())
	}
}

func (e *Engine) create(ctx context.Context, g *Group, count int, scriptID string) error {
	ng := g.Config
	logger := log.FromContext(ctx).WithValues("nodegroup", ng.ID)
	errs := make([]error, count)
	workqueue.ParallelizeUntil(ctx, count, count, func(i int) {
		instance, err := e.gateway.CreateInstance(ctx, &cloudprovider.CreateInstanceRequest{
			InstanceType:    ng.InstanceType,
			Image:           ng.Image,
			Hostname:        Hostname(ng.ID),
			Description:     Description(ng.ID),
			Location:        ng.Location,
			SSHKeyIDs:       ng.SSHKeyIDs,
			StartupScriptID: scriptID,
			Contract:        string(ng.Contract),
			Pricing:         string(ng.Pricing),
		})
		metrics.InstancesCreatedCounter.With(map[string]string{
			metrics.NodeGroupLabel: ng.ID,
			metrics.ResultLabel:    metrics.Result(err),
		}).Inc()
		if err != nil {
			errs[i] = fmt.Errorf("creating instance, %w", err)
			e.update(g, func(s *State) {
				s.inflight--
				s.TargetSize--
			})
			return
		}
		record := &InstanceRecord{
			ID:         instance.ID,
			ProviderID: cloudprovider.ProviderID(instance.ID),
			Hostname:   instance.Hostname,
			State:      InstanceStateCreating,
			CreatedAt:  e.clk.Now(),
		}
		// each instance is visible as soon as the cloud accepted it
		e.update(g, func(s *State) {
			s.Instances[record.ID] = record
			s.inflight--
		})
		logger.Info("created instance", "instance", record.ID, "hostname", record.Hostname)
	})
	err := multierr.Combine(errs...)
	if err != nil {
		logger.Error(err, "failed creating instances", "failed", lo.CountBy(errs, func(err error) bool { return err != nil }), "requested", count)
	}
	return err
}

// DecreaseTargetSize lowers the target size without touching any instance. It only corrects intent the
// cloud never acted on, so it refuses to go below the number of instances the group knows about.
func (e *Engine) DecreaseTargetSize(ctx context.Context, id string, delta int32) error {
	g, err := e.registry.Lookup(id)
	if err != nil {
		return err
	}
	if delta >= 0 {
		return cloudprovider.NewInvalidArgumentError(fmt.Errorf("size decrease must be negative, got %d", delta))
	}
	if err := e.ensureFresh(ctx, g); err != nil {
		return err
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for node group %s, %w", id, err)
	}
	defer g.sem.Release(1)
	// checked against the snapshot being replaced, so a concurrent refresh cannot slip in between
	var invalid error
	next := e.update(g, func(s *State) {
		desired := s.TargetSize + delta
		switch {
		case desired < int32(s.Count()):
			invalid = fmt.Errorf("attempt to delete existing nodes, target size %d delta %d existing nodes %d", s.TargetSize, delta, s.Count())
		case desired < g.Config.MinSize:
			invalid = fmt.Errorf("size decrease too large, desired %d min %d", desired, g.Config.MinSize)
		default:
			s.TargetSize = desired
		}
	})
	if invalid != nil {
		return cloudprovider.NewInvalidArgumentError(invalid)
	}
	log.FromContext(ctx).WithValues("nodegroup", id).Info("decreased target size", "delta", delta, "target-size", next.TargetSize)
	return nil
}

// DeleteNodes deletes the referenced instances of the group. Every accepted delete lowers the target size by
// one and is kept even if siblings fail. Failed deletes leave the record in its prior state with an error
// attached.
func (e *Engine) DeleteNodes(ctx context.Context, id string, providerIDs []string) error {
	g, err := e.registry.Lookup(id)
	if err != nil {
		return err
	}
	if len(providerIDs) == 0 {
		return nil
	}
	if err := e.ensureFresh(ctx, g); err != nil {
		return err
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for node group %s, %w", id, err)
	}
	state := g.Snapshot()
	byProviderID := lo.KeyBy(state.Records(), func(r *InstanceRecord) string { return r.ProviderID })
	var errs error
	var targets []*InstanceRecord
	for _, providerID := range lo.Uniq(providerIDs) {
		rec, ok := byProviderID[providerID]
		if !ok {
			errs = multierr.Append(errs, cloudprovider.NewNotFoundError(fmt.Errorf("instance %q in node group %q", providerID, id)))
			continue
		}
		if rec.State == InstanceStateDeleting {
			continue
		}
		targets = append(targets, rec)
	}
	if desired := state.TargetSize - int32(len(targets)); desired < g.Config.MinSize {
		g.sem.Release(1)
		return cloudprovider.NewInvalidArgumentError(fmt.Errorf("deleting %d nodes would leave %d below min size %d", len(targets), desired, g.Config.MinSize))
	}
	if len(targets) == 0 {
		g.sem.Release(1)
		return errs
	}

	done := make(chan error, 1)
	go func() {
		defer g.sem.Release(1)
		done <- multierr.Append(errs, e.delete(context.WithoutCancel(ctx), g, targets))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for instance deletion, %w", ctx.Err())
	}
}

func (e *Engine) delete(ctx context.Context, g *Group, targets []*InstanceRecord) error {
	errs := make([]error, len(targets))
	workqueue.ParallelizeUntil(ctx, len(targets), len(targets), func(i int) {
		// an instance the cloud no longer knows is as good as deleted
		err := cloudprovider.IgnoreNotFoundError(e.gateway.DeleteInstance(ctx, targets[i].ID))
		metrics.InstancesDeletedCounter.With(map[string]string{
			metrics.NodeGroupLabel: g.Config.ID,
			metrics.ResultLabel:    metrics.Result(err),
		}).Inc()
		if err != nil {
			errs[i] = fmt.Errorf("deleting instance %s, %w", targets[i].ID, err)
		}
	})
	generation := e.generation.Load()
	e.update(g, func(s *State) {
		for i, target := range targets {
			current, ok := s.Instances[target.ID]
			if !ok {
				// a refresh dropped the record while the delete was in flight
				if errs[i] == nil {
					s.TargetSize--
				}
				continue
			}
			next := current.copy()
			if errs[i] == nil {
				s.TargetSize--
				next.State = InstanceStateDeleting
				next.ErrorInfo = nil
			} else {
				cause := cloudprovider.AsCloudOperationFailedError(errs[i])
				next.ErrorInfo = &ErrorInfo{
					Code:    lo.Ternary(cause.Code == "", "delete_failed", cause.Code),
					Message: cause.Message,
					Class:   cause.Class,
				}
				next.errorGeneration = generation
				g.reported.Delete(target.ID)
			}
			s.Instances[target.ID] = next
		}
	})
	logger := log.FromContext(ctx).WithValues("nodegroup", g.Config.ID)
	for i, target := range targets {
		if errs[i] == nil {
			logger.Info("deleted instance", "instance", target.ID, "hostname", target.Hostname)
		}
	}
	err := multierr.Combine(errs...)
	if err != nil {
		logger.Error(err, "failed deleting instances")
	}
	return err
}

// Cleanup releases the gateway's resources. Instances are left untouched.
func (e *Engine) Cleanup(ctx context.Context) error {
	e.scripts.Flush()
	if err := e.gateway.Close(); err != nil {
		return fmt.Errorf("closing cloud gateway, %w", err)
	}
	log.FromContext(ctx).Info("cleaned up cloud gateway")
	return nil
}

// update publishes a copy of the group's state with fn applied
func (e *Engine) update(g *Group, fn func(*State)) *State {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.Snapshot().with(fn)
	e.registry.publish(g, next)
	return next
}

func (e *Engine) stale(ctx context.Context) bool {
	ttl := options.FromContext(ctx).CacheTTL
	return lo.SomeBy(e.registry.Groups(), func(g *Group) bool {
		s := g.Snapshot()
		return !s.initialized || e.clk.Since(s.LastRefreshedAt) > ttl
	})
}

// ensureFresh refreshes when the group's snapshot is older than the cache TTL. A group that has been
// populated once keeps serving its previous snapshot when the refresh fails.
func (e *Engine) ensureFresh(ctx context.Context, g *Group) error {
	state := g.Snapshot()
	if state.initialized && e.clk.Since(state.LastRefreshedAt) <= options.FromContext(ctx).CacheTTL {
		return nil
	}
	err := e.Refresh(ctx)
	if err == nil {
		return nil
	}
	if g.Snapshot().initialized && !cloudprovider.IsStaleError(err) {
		log.FromContext(ctx).Error(err, "failed refreshing node groups, serving cached state", "nodegroup", g.Config.ID)
		return nil
	}
	return err
}
