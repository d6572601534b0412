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

package startupscript

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

//go:embed bootstrap.sh.tmpl
var DefaultTemplate string

// CacheTTL bounds how long a resolved script id is trusted before the cloud is asked again
var CacheTTL = 10 * time.Minute

const namePrefix = "k8s-verda-init-"

// Provider makes sure every node group has a cloud startup script that joins new instances to the cluster.
type Provider struct {
	gateway    cloudprovider.Gateway
	kubernetes config.Kubernetes
	template   *template.Template

	mu  sync.Mutex
	ids *cache.Cache
}

type templateInput struct {
	Endpoint   string
	Token      string
	CAHash     string
	Labels     string
	NodeGroup  string
	IDPrefix   string
	ScriptName string
}

type entry struct {
	hash uint64
	id   string
}

// NewProvider parses text as the bootstrap template. An empty text selects DefaultTemplate.
func NewProvider(gateway cloudprovider.Gateway, kubernetes config.Kubernetes, text string) (*Provider, error) {
	tmpl, err := template.New("bootstrap").Option("missingkey=error").Parse(lo.Ternary(text == "", DefaultTemplate, text))
	if err != nil {
		return nil, fmt.Errorf("parsing startup script template, %w", err)
	}
	return &Provider{
		gateway:    gateway,
		kubernetes: kubernetes,
		template:   tmpl,
		ids:        cache.New(CacheTTL, CacheTTL),
	}, nil
}

func Name(nodeGroup string) string {
	return namePrefix + nodeGroup
}

// Render produces the startup script for a node group
func (p *Provider) Render(ng *config.NodeGroup) (string, error) {
	keys := lo.Keys(ng.Labels)
	sort.Strings(keys)
	buf := &bytes.Buffer{}
	if err := p.template.Execute(buf, templateInput{
		Endpoint:   p.kubernetes.Endpoint,
		Token:      p.kubernetes.Token,
		CAHash:     p.kubernetes.CAHash,
		Labels:     strings.Join(lo.Map(keys, func(k string, _ int) string { return k + "=" + ng.Labels[k] }), ","),
		NodeGroup:  ng.ID,
		IDPrefix:   cloudprovider.ProviderIDPrefix,
		ScriptName: Name(ng.ID),
	}); err != nil {
		return "", fmt.Errorf("rendering startup script for %s, %w", ng.ID, err)
	}
	return buf.String(), nil
}

// Ensure returns the id of the startup script new instances of the group boot with. A script the group
// names explicitly is used as is. Otherwise the rendered script is created, or replaced when its content
// drifted from what the cloud holds.
func (p *Provider) Ensure(ctx context.Context, ng *config.NodeGroup) (string, error) {
	if ng.StartupScriptID != "" {
		return ng.StartupScriptID, nil
	}
	content, err := p.Render(ng)
	if err != nil {
		return "", err
	}
	name := Name(ng.ID)
	hash, err := hashstructure.Hash(struct{ Name, Content string }{name, content}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing startup script, %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.ids.Get(ng.ID); ok && cached.(entry).hash == hash {
		return cached.(entry).id, nil
	}
	script, err := p.ensure(ctx, name, content)
	if err != nil {
		return "", err
	}
	// an outdated script kept after a failed replace is retried on the next call
	if script.Script == content {
		p.ids.SetDefault(ng.ID, entry{hash: hash, id: script.ID})
	}
	return script.ID, nil
}

func (p *Provider) ensure(ctx context.Context, name, content string) (*cloudprovider.StartupScript, error) {
	logger := log.FromContext(ctx).WithValues("startup-script", name)
	scripts, err := p.gateway.ListStartupScripts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing startup scripts, %w", err)
	}
	named := lo.Filter(scripts, func(s *cloudprovider.StartupScript, _ int) bool { return s.Name == name })
	if current, found := lo.Find(named, func(s *cloudprovider.StartupScript) bool { return s.Script == content }); found {
		logger.V(1).Info("using existing startup script", "id", current.ID)
		return current, nil
	}
	script, err := p.gateway.CreateStartupScript(ctx, name, content)
	if err != nil {
		if len(named) > 0 {
			logger.Error(err, "failed creating startup script with changed content, keeping outdated one", "id", named[0].ID)
			return named[0], nil
		}
		return nil, fmt.Errorf("creating startup script %s, %w", name, err)
	}
	logger.Info("created startup script", "id", script.ID)
	for _, outdated := range named {
		if err := p.gateway.DeleteStartupScript(ctx, outdated.ID); err != nil {
			logger.Error(err, "failed deleting outdated startup script", "id", outdated.ID)
			continue
		}
		logger.Info("deleted outdated startup script", "id", outdated.ID)
	}
	return script, nil
}

// Flush forgets every resolved script id
func (p *Provider) Flush() {
	p.ids.Flush()
}
