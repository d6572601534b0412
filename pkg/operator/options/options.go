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

package options

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/verda-cloud/verda-cloud-provider/pkg/utils/env"
)

const (
	DefaultVerdaAPIURL = "https://api.verda.com/v1"

	ClientIDEnvVar     = "VERDA_CLIENT_ID"
	ClientSecretEnvVar = "VERDA_CLIENT_SECRET"
)

type optionsKey struct{}

// FlagSet wraps the flag set so the boolean parsing quirks of the standard library can be handled in one place
type FlagSet struct {
	*flag.FlagSet
}

// BoolVarWithEnv registers a bool flag whose default comes from the environment
func (fs *FlagSet) BoolVarWithEnv(p *bool, name string, envVar string, val bool, usage string) {
	*p = env.WithDefaultBool(envVar, val)
	fs.BoolFunc(name, usage, func(val string) error {
		if val != "true" && val != "false" {
			return fmt.Errorf("%q is not a valid value, must be true or false", val)
		}
		*p = val == "true"
		return nil
	})
}

// Options for running this binary
type Options struct {
	ConfigPath              string
	Port                    int
	MetricsPort             int
	LogLevel                string
	CacheTTL                time.Duration
	InstanceVisibilityGrace time.Duration
	RefreshSchedule         string
	VerdaAPIURL             string
	VerdaAPIQPS             int
	VerdaAPIBurst           int
	VerdaClientID           string
	VerdaClientSecret       string
	TLSCertFile             string
	TLSKeyFile              string
	TLSCAFile               string
	StartupScriptTemplate   string
	EnableReflection        bool
	EnableProfiling         bool
}

func (o *Options) AddFlags(fs *FlagSet) {
	fs.StringVar(&o.ConfigPath, "config", env.WithDefaultString("CONFIG", "config.yaml"), "Path to the YAML document enumerating node groups")
	fs.IntVar(&o.Port, "port", env.WithDefaultInt("PORT", 8086), "The port the cloud provider gRPC endpoint binds to")
	fs.IntVar(&o.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to for operating metrics about the provider itself")
	fs.StringVar(&o.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Log verbosity level. Can be one of 'debug', 'info', or 'error'")
	fs.DurationVar(&o.CacheTTL, "cache-ttl", env.WithDefaultDuration("CACHE_TTL", time.Minute), "Maximum age of the cached instance listing before a read triggers a refresh")
	fs.DurationVar(&o.InstanceVisibilityGrace, "instance-visibility-grace", env.WithDefaultDuration("INSTANCE_VISIBILITY_GRACE", 5*time.Minute), "How long a created instance that is missing from listings is still reported as creating")
	fs.StringVar(&o.RefreshSchedule, "refresh-schedule", env.WithDefaultString("REFRESH_SCHEDULE", ""), "Cron schedule for background refreshes of the instance listing. Empty disables background refreshes.")
	fs.StringVar(&o.VerdaAPIURL, "verda-api-url", env.WithDefaultString("VERDA_API_URL", DefaultVerdaAPIURL), "Base URL of the Verda public API")
	fs.IntVar(&o.VerdaAPIQPS, "verda-api-qps", env.WithDefaultInt("VERDA_API_QPS", 10), "The smoothed rate of qps to the Verda API")
	fs.IntVar(&o.VerdaAPIBurst, "verda-api-burst", env.WithDefaultInt("VERDA_API_BURST", 20), "The maximum allowed burst of queries to the Verda API")
	fs.StringVar(&o.TLSCertFile, "tls-cert-file", env.WithDefaultString("TLS_CERT_FILE", ""), "Server certificate for mTLS. mTLS is enabled only when the certificate, key and CA are all set.")
	fs.StringVar(&o.TLSKeyFile, "tls-key-file", env.WithDefaultString("TLS_KEY_FILE", ""), "Server private key for mTLS")
	fs.StringVar(&o.TLSCAFile, "tls-ca-file", env.WithDefaultString("TLS_CA_FILE", ""), "CA bundle used to verify client certificates")
	fs.StringVar(&o.StartupScriptTemplate, "startup-script-template", env.WithDefaultString("STARTUP_SCRIPT_TEMPLATE", ""), "Path to a text/template used for node bootstrap scripts. Empty uses the built-in template.")
	fs.BoolVarWithEnv(&o.EnableReflection, "enable-reflection", "ENABLE_REFLECTION", true, "Register the gRPC server reflection service")
	fs.BoolVarWithEnv(&o.EnableProfiling, "enable-profiling", "ENABLE_PROFILING", false, "Serve pprof handlers on the metrics endpoint")
	o.VerdaClientID = os.Getenv(ClientIDEnvVar)
	o.VerdaClientSecret = os.Getenv(ClientSecretEnvVar)
}

func (o *Options) Parse(fs *FlagSet, args ...string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return fmt.Errorf("parsing flags, %w", err)
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validating options, %w", err)
	}
	return nil
}

func (o *Options) Validate() (errs error) {
	if _, err := zap.ParseAtomicLevel(o.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log-level %q, %w", o.LogLevel, err))
	}
	if o.CacheTTL <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("cache-ttl must be greater than zero"))
	}
	if o.InstanceVisibilityGrace < 0 {
		errs = multierr.Append(errs, fmt.Errorf("instance-visibility-grace cannot be negative"))
	}
	if o.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(o.RefreshSchedule); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refresh-schedule %q, %w", o.RefreshSchedule, err))
		}
	}
	if o.VerdaAPIQPS <= 0 || o.VerdaAPIBurst <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("verda-api-qps and verda-api-burst must be greater than zero"))
	}
	if unset := lo.Count([]string{o.TLSCertFile, o.TLSKeyFile, o.TLSCAFile}, ""); unset != 0 && unset != 3 {
		errs = multierr.Append(errs, fmt.Errorf("tls-cert-file, tls-key-file and tls-ca-file must be set together"))
	}
	return errs
}

// MTLS reports whether the server should require client certificates
func (o *Options) MTLS() bool {
	return o.TLSCertFile != "" && o.TLSKeyFile != "" && o.TLSCAFile != ""
}

func (o *Options) ToContext(ctx context.Context) context.Context {
	return ToContext(ctx, o)
}

func ToContext(ctx context.Context, opts *Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

func FromContext(ctx context.Context) *Options {
	retval := ctx.Value(optionsKey{})
	if retval == nil {
		return nil
	}
	return retval.(*Options)
}
