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

// Package verda implements the cloud gateway over the Verda REST API.
package verda

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/awslabs/operatorpkg/option"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
)

var _ cloudprovider.Gateway = (*Gateway)(nil)

type Gateway struct {
	client *client
}

type GatewayOptions struct {
	RetryAttempts uint
	RetryDelay    time.Duration
}

func WithRetries(attempts uint, delay time.Duration) func(*GatewayOptions) {
	return func(o *GatewayOptions) {
		o.RetryAttempts = attempts
		o.RetryDelay = delay
	}
}

var DefaultGatewayOptions = []option.Function[GatewayOptions]{
	WithRetries(3, 500*time.Millisecond),
}

// NewGateway builds a gateway from the operator options. Tokens are fetched lazily on the first request and
// refreshed when they expire.
func NewGateway(ctx context.Context, optionFuncs ...option.Function[GatewayOptions]) (*Gateway, error) {
	opts := options.FromContext(ctx)
	if opts.VerdaClientID == "" || opts.VerdaClientSecret == "" {
		return nil, fmt.Errorf("%s and %s must be set", options.ClientIDEnvVar, options.ClientSecretEnvVar)
	}
	gatewayOptions := option.Resolve(append(DefaultGatewayOptions, optionFuncs...)...)
	baseURL := strings.TrimSuffix(opts.VerdaAPIURL, "/")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	base := &http.Client{Timeout: requestTimeout, Transport: transport}
	tokens := oauth2.ReuseTokenSource(nil, &tokenSource{
		ctx:          context.WithoutCancel(ctx),
		http:         base,
		url:          baseURL + tokenPath,
		clientID:     opts.VerdaClientID,
		clientSecret: opts.VerdaClientSecret,
	})
	return &Gateway{
		client: &client{
			baseURL: baseURL,
			http: &http.Client{
				Timeout:   requestTimeout,
				Transport: &oauth2.Transport{Source: tokens, Base: transport},
			},
			transport:     transport,
			limiter:       rate.NewLimiter(rate.Limit(opts.VerdaAPIQPS), opts.VerdaAPIBurst),
			retryAttempts: max(1, gatewayOptions.RetryAttempts),
			retryDelay:    gatewayOptions.RetryDelay,
		},
	}, nil
}

func (g *Gateway) CreateInstance(ctx context.Context, req *cloudprovider.CreateInstanceRequest) (*cloudprovider.Instance, error) {
	var id string
	if err := g.client.do(ctx, http.MethodPost, "/instances", &createInstanceRequest{
		InstanceType:    req.InstanceType,
		Image:           req.Image,
		Hostname:        req.Hostname,
		Description:     req.Description,
		LocationCode:    req.Location,
		SSHKeyIDs:       lo.Ternary(req.SSHKeyIDs == nil, []string{}, req.SSHKeyIDs),
		StartupScriptID: req.StartupScriptID,
		Contract:        req.Contract,
		Pricing:         req.Pricing,
		IsSpot:          req.Contract == string(config.ContractSpot),
	}, &id); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, cloudprovider.NewCloudOperationFailedError(fmt.Errorf("create returned no instance id"), "", "create returned no instance id", cloudprovider.ErrorClassOther)
	}
	return &cloudprovider.Instance{
		ID:           id,
		Hostname:     req.Hostname,
		Description:  req.Description,
		InstanceType: req.InstanceType,
		Image:        req.Image,
		Location:     req.Location,
		Status:       cloudprovider.InstanceStatusOrdered,
		IsSpot:       req.Contract == string(config.ContractSpot),
		CreatedAt:    time.Now(),
	}, nil
}

func (g *Gateway) ListInstances(ctx context.Context) ([]*cloudprovider.Instance, error) {
	var instances []*instance
	if err := g.client.get(ctx, "/instances", &instances); err != nil {
		return nil, err
	}
	return lo.Map(instances, func(i *instance, _ int) *cloudprovider.Instance { return i.toInstance() }), nil
}

func (g *Gateway) DeleteInstance(ctx context.Context, id string) error {
	return g.client.do(ctx, http.MethodPut, "/instances", &instanceActionRequest{Action: "delete", ID: id}, nil)
}

func (g *Gateway) ListInstanceTypes(ctx context.Context) ([]*cloudprovider.InstanceType, error) {
	var instanceTypes []*instanceType
	if err := g.client.get(ctx, "/instance-types", &instanceTypes); err != nil {
		return nil, err
	}
	return lo.Map(instanceTypes, func(it *instanceType, _ int) *cloudprovider.InstanceType { return it.toInstanceType() }), nil
}

func (g *Gateway) ListStartupScripts(ctx context.Context) ([]*cloudprovider.StartupScript, error) {
	var scripts []*startupScript
	if err := g.client.get(ctx, "/scripts", &scripts); err != nil {
		return nil, err
	}
	return lo.Map(scripts, func(s *startupScript, _ int) *cloudprovider.StartupScript {
		return &cloudprovider.StartupScript{ID: s.ID, Name: s.Name, Script: s.Script}
	}), nil
}

func (g *Gateway) CreateStartupScript(ctx context.Context, name, script string) (*cloudprovider.StartupScript, error) {
	var id string
	if err := g.client.do(ctx, http.MethodPost, "/scripts", &createStartupScriptRequest{Name: name, Script: script}, &id); err != nil {
		return nil, err
	}
	return &cloudprovider.StartupScript{ID: id, Name: name, Script: script}, nil
}

func (g *Gateway) DeleteStartupScript(ctx context.Context, id string) error {
	return g.client.do(ctx, http.MethodDelete, "/scripts", &deleteStartupScriptsRequest{Scripts: []string{id}}, nil)
}

func (g *Gateway) Close() error {
	g.client.transport.CloseIdleConnections()
	return nil
}
