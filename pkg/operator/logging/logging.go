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

package logging

import (
	"context"
	"log"
	"runtime/debug"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
)

func DefaultZapConfig(ctx context.Context, component string) zap.Config {
	logLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts := options.FromContext(ctx); opts != nil && opts.LogLevel != "" {
		logLevel = lo.Must(zap.ParseAtomicLevel(opts.LogLevel))
	}
	return zap.Config{
		Level:             logLevel,
		Development:       false,
		DisableCaller:     true,
		DisableStacktrace: true,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "time",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// NewLogger returns a configured *zap.Logger named after the component
func NewLogger(ctx context.Context, component string) *zap.Logger {
	return WithCommit(lo.Must(DefaultZapConfig(ctx, component).Build())).Named(component)
}

// WithCommit enriches logs with the vcs revision the binary was built from, when it is known
func WithCommit(logger *zap.Logger) *zap.Logger {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return logger
	}
	revision, found := lo.Find(info.Settings, func(s debug.BuildSetting) bool { return s.Key == "vcs.revision" })
	if !found {
		logger.Info("Unable to read vcs.revision from binary")
		return logger
	}
	return logger.With(zap.String("commit", revision.Value))
}

// ConfigureGlobalLoggers sets up any package-wide loggers like "log" or "klog" that are utilized by other packages
// to use the configured logger, and returns a context carrying it
func ConfigureGlobalLoggers(ctx context.Context, logger *zap.Logger) context.Context {
	l := zapr.NewLogger(logger)
	klog.SetLogger(l)
	ctrl.SetLogger(l)
	w := &zapio.Writer{Log: logger, Level: zap.DebugLevel}
	log.SetFlags(0)
	log.SetOutput(w)
	return logr.NewContext(ctx, l)
}
