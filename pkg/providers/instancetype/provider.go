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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/awslabs/operatorpkg/option"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/utils/atomic"
)

// Provider keeps the catalog built from the cloud's instance types merged with configured overrides.
type Provider struct {
	gateway   cloudprovider.Gateway
	overrides map[string]*config.Resources

	mu      sync.Mutex
	catalog *atomic.CachedVariable[*Catalog]
}

type Options struct {
	Cached bool
}

func FromCache(cached bool) func(options *Options) {
	return func(options *Options) {
		options.Cached = cached
	}
}

var DefaultOptions = []option.Function[Options]{
	FromCache(true),
}

func NewProvider(clk clock.PassiveClock, gateway cloudprovider.Gateway, cfg *config.Config, ttl time.Duration) *Provider {
	p := &Provider{
		gateway:   gateway,
		overrides: map[string]*config.Resources{},
		catalog:   atomic.NewCachedVariable[*Catalog](clk, ttl),
	}
	// the first group (by id) wins when several groups override the same instance type
	for _, ng := range cfg.Groups() {
		if _, ok := p.overrides[ng.InstanceType]; ng.Resources != nil && !ok {
			p.overrides[ng.InstanceType] = ng.Resources
		}
	}
	p.catalog.Set(p.build(nil))
	p.catalog.Expire()
	return p
}

// Get returns the current catalog. An expired catalog is rebuilt from the cloud; when that fails the
// previous catalog is returned so that scale-from-zero keeps working through cloud outages.
func (p *Provider) Get(ctx context.Context, optionFuncs ...option.Function[Options]) *Catalog {
	options := option.Resolve(append(DefaultOptions, optionFuncs...)...)
	if catalog, ok := p.catalog.Get(); options.Cached && ok {
		return catalog
	}
	if err := p.Refresh(ctx); err != nil {
		log.FromContext(ctx).Error(err, "failed refreshing instance types, serving previous catalog")
	}
	catalog, _ := p.catalog.Get()
	return catalog
}

// Refresh rebuilds the catalog from the cloud. On failure the previous catalog is kept and served from
// cache for another ttl before the cloud is asked again.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	instanceTypes, err := p.gateway.ListInstanceTypes(ctx)
	if err != nil {
		previous, _ := p.catalog.Get()
		p.catalog.Set(previous)
		return fmt.Errorf("listing instance types, %w", err)
	}
	catalog := p.build(instanceTypes)
	p.catalog.Set(catalog)
	log.FromContext(ctx).V(1).Info("refreshed instance types", "count", catalog.Len())
	return nil
}

func (p *Provider) build(instanceTypes []*cloudprovider.InstanceType) *Catalog {
	specs := lo.SliceToMap(instanceTypes, func(it *cloudprovider.InstanceType) (string, *Spec) {
		return it.Name, FromInstanceType(it)
	})
	for name, resources := range p.overrides {
		specs[name] = WithOverride(name, specs[name], resources)
	}
	return NewCatalog(lo.Values(specs)...)
}
