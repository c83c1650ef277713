// Command eryxctl is a thin exerciser over the root eryx package: point
// it at a compiled guest component and a Python source file, and it
// runs one Execute call and prints the outcome. It exists for local
// development against a component built outside this repo; it is not
// the MCP server or control-plane CLI spec.md §1 excludes from scope.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/eryx/internal/artifact"
	"github.com/oriys/eryx/internal/config"

	eryx "github.com/oriys/eryx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eryxctl",
		Short: "Run Python source against an Eryx sandbox component",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the runtime and linker versions baked into the Component Cache Key",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("runtime=%s linker=%s\n", eryx.RuntimeVersion, eryx.LinkerVersion)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		componentPath string
		stdlibDir     string
		configPath    string
		timeout       time.Duration
		memoryBytes   int64
		fuel          uint64
	)

	cmd := &cobra.Command{
		Use:   "run <script.py>",
		Short: "Execute a Python script in a fresh sandbox instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			componentBytes, err := os.ReadFile(componentPath)
			if err != nil {
				return fmt.Errorf("read component: %w", err)
			}

			store := artifact.NewStore(artifact.NewEmbeddedSourceFromBytes(componentBytes, stdlibDir))

			builder, err := eryx.NewBuilder(eryx.BuilderConfig{Artifacts: store})
			if err != nil {
				return fmt.Errorf("new builder: %w", err)
			}
			defer builder.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout+5*time.Second)
			defer cancel()

			tmpl, err := builder.Build(ctx, eryx.BuildOptions{})
			if err != nil {
				return fmt.Errorf("build template: %w", err)
			}

			sandbox := eryx.NewSandbox(tmpl)
			defer sandbox.Shutdown()

			limits := eryx.ResourceLimits{
				ExecutionTimeout: timeout,
				MemoryBytes:      memoryBytes,
				Fuel:             fuel,
			}
			if cfg.Limits.ExecutionTimeout > 0 && timeout == 0 {
				limits.ExecutionTimeout = cfg.Limits.ExecutionTimeout
			}

			result, execErr := sandbox.Execute(ctx, string(code), eryx.ExecuteOptions{
				Limits: limits,
				OnOutput: func(stream string, data []byte) {
					if stream == "stderr" {
						os.Stderr.Write(data)
						return
					}
					os.Stdout.Write(data)
				},
			})
			if result != nil {
				fmt.Fprintf(os.Stderr, "\nfuel_consumed=%d duration=%s callbacks=%d\n",
					result.FuelConsumed, result.Duration, result.CallbackInvocations)
			}
			if execErr != nil {
				return execErr
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&componentPath, "component", "", "path to the compiled guest component (required)")
	cmd.Flags().StringVar(&stdlibDir, "stdlib-dir", "", "path to the preopened Python stdlib directory")
	cmd.Flags().StringVar(&configPath, "config", "", "path to an Eryx YAML config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "execution timeout")
	cmd.Flags().Int64Var(&memoryBytes, "memory-bytes", 0, "memory limit in bytes (0 = unlimited)")
	cmd.Flags().Uint64Var(&fuel, "fuel", 0, "fuel limit (0 = unlimited)")
	cmd.MarkFlagRequired("component")

	return cmd
}
