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

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/verda-cloud/verda-cloud-provider/pkg/operator"
	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/logging"
	"github.com/verda-cloud/verda-cloud-provider/pkg/operator/options"
)

func main() {
	if err := newCommand().ExecuteContext(signals.SetupSignalHandler()); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options.Options{}
	fs := &options.FlagSet{FlagSet: flag.NewFlagSet("verda-cloud-provider", flag.ContinueOnError)}
	opts.AddFlags(fs)

	cmd := &cobra.Command{
		Use:          "verda-cloud-provider",
		Short:        "Serves Verda GPU instances to the cluster autoscaler as node groups",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("validating options, %w", err)
			}
			ctx := options.ToContext(cmd.Context(), opts)
			ctx = logging.ConfigureGlobalLoggers(ctx, logging.NewLogger(ctx, operator.Component))

			op, err := operator.NewOperator(ctx)
			if err != nil {
				log.FromContext(ctx).Error(err, "failed starting")
				return err
			}
			return op.Start(ctx)
		},
	}
	cmd.Flags().AddGoFlagSet(fs.FlagSet)
	// --metrics_port and --metrics-port are the same flag
	cmd.Flags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	return cmd
}
