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

package test

import (
	"fmt"
	"time"

	"github.com/imdario/mergo"
	"github.com/samber/lo"

	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
)

type OptionsFields struct {
	ConfigPath              *string
	Port                    *int
	MetricsPort             *int
	LogLevel                *string
	CacheTTL                *time.Duration
	InstanceVisibilityGrace *time.Duration
	RefreshSchedule         *string
	VerdaAPIURL             *string
	VerdaAPIQPS             *int
	VerdaAPIBurst           *int
	VerdaClientID           *string
	VerdaClientSecret       *string
	TLSCertFile             *string
	TLSKeyFile              *string
	TLSCAFile               *string
	StartupScriptTemplate   *string
	EnableReflection        *bool
	EnableProfiling         *bool
}

func Options(overrides ...OptionsFields) *options.Options {
	opts := OptionsFields{}
	for _, override := range overrides {
		if err := mergo.Merge(&opts, override, mergo.WithOverride); err != nil {
			panic(fmt.Sprintf("Failed to merge options: %s", err))
		}
	}
	return &options.Options{
		ConfigPath:              lo.FromPtrOr(opts.ConfigPath, "config.yaml"),
		Port:                    lo.FromPtrOr(opts.Port, 8086),
		MetricsPort:             lo.FromPtrOr(opts.MetricsPort, 8080),
		LogLevel:                lo.FromPtrOr(opts.LogLevel, "info"),
		CacheTTL:                lo.FromPtrOr(opts.CacheTTL, time.Minute),
		InstanceVisibilityGrace: lo.FromPtrOr(opts.InstanceVisibilityGrace, 5*time.Minute),
		RefreshSchedule:         lo.FromPtrOr(opts.RefreshSchedule, ""),
		VerdaAPIURL:             lo.FromPtrOr(opts.VerdaAPIURL, options.DefaultVerdaAPIURL),
		VerdaAPIQPS:             lo.FromPtrOr(opts.VerdaAPIQPS, 10),
		VerdaAPIBurst:           lo.FromPtrOr(opts.VerdaAPIBurst, 20),
		VerdaClientID:           lo.FromPtrOr(opts.VerdaClientID, ""),
		VerdaClientSecret:       lo.FromPtrOr(opts.VerdaClientSecret, ""),
		TLSCertFile:             lo.FromPtrOr(opts.TLSCertFile, ""),
		TLSKeyFile:              lo.FromPtrOr(opts.TLSKeyFile, ""),
		TLSCAFile:               lo.FromPtrOr(opts.TLSCAFile, ""),
		StartupScriptTemplate:   lo.FromPtrOr(opts.StartupScriptTemplate, ""),
		EnableReflection:        lo.FromPtrOr(opts.EnableReflection, true),
		EnableProfiling:         lo.FromPtrOr(opts.EnableProfiling, false),
	}
}
