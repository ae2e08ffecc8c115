// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/romnn/cargo-publish-go/internal/config"
	"github.com/romnn/cargo-publish-go/internal/publish"
)

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	var (
		cfgFile string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "cargo-publish",
		Short: "Publish the members of a cargo workspace in dependency order",
		Long: `cargo-publish discovers every publishable member of a cargo workspace,
rewrites local path dependencies to exact versions when asked to, and then
drives bounded-concurrency "cargo publish" invocations in topological
order, waiting for each version to become visible on the registry before
unblocking its dependants.

Every flag can also be set through a PUBLISH_CRATES_* environment variable
(for example PUBLISH_CRATES_REGISTRY_TOKEN) or through a TOML config file
passed with --config; flags win over the environment, which wins over the
file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			opts, err := cfg.Options()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := publish.Run(ctx, opts); err != nil {
				slog.Error("publish run failed", "error", err)
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("path", ".", "path to the workspace manifest or the directory containing it")
	flags.String("registry-token", "", "registry API token, passed to cargo as CARGO_REGISTRY_TOKEN")
	flags.Bool("dry-run", false, "run every check without actually publishing")
	flags.String("publish-delay", "", `settle delay after a version becomes visible, e.g. "30s" or "1m" (default 30s)`)
	flags.Bool("no-verify", false, "pass --no-verify to cargo publish")
	flags.Bool("resolve-versions", false, "rewrite local path dependencies to carry exact versions")
	flags.StringSlice("include", nil, "only publish the named packages")
	flags.StringSlice("exclude", nil, "never publish the named packages; wins over --include")
	flags.Int("max-retries", 0, "maximum publish attempts per package (default twice the package count, at least 10)")
	flags.Int("concurrency-limit", 0, "maximum concurrent publish tasks (default 4)")
	flags.String("cargo-path", "", `cargo executable to invoke (default "cargo")`)
	cobra.CheckErr(v.BindPFlags(flags))

	flags.StringVar(&cfgFile, "config", "", "TOML config file with defaults for the flags above")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}
