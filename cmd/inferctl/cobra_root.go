package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toydogcat/model-server/pkg/types"
)

// cliConfig holds the persistent flags every subcommand reads the server
// address from.
type cliConfig struct {
	server string
}

func buildRootCmd() *cobra.Command {
	cfg := &cliConfig{server: envOr("INFERCTL_SERVER", "http://localhost:8080")}

	root := &cobra.Command{
		Use:           "inferctl",
		Short:         "Admin CLI for an inferd model server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.server, "server", cfg.server, "inferd base URL (defaults INFERCTL_SERVER or http://localhost:8080)")

	root.AddCommand(buildModelCmd(cfg), buildPipelineCmd(cfg))
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func buildModelCmd(cfg *cliConfig) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect and manage registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("model requires a subcommand: load|reload|retire|list")
		},
	}

	var versions, params, basePath, backend string

	load := &cobra.Command{
		Use:   "load <name>",
		Short: "Load one or more versions of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := buildModelConfigWire(versions, basePath, backend, params)
			if err != nil {
				return err
			}
			return newClient(cfg.server).loadVersions(args[0], body)
		},
	}
	reload := &cobra.Command{
		Use:   "reload <name>",
		Short: "Reload one or more already-loaded versions of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := buildModelConfigWire(versions, basePath, backend, params)
			if err != nil {
				return err
			}
			return newClient(cfg.server).reloadVersions(args[0], body)
		},
	}
	for _, c := range []*cobra.Command{load, reload} {
		c.Flags().StringVar(&versions, "versions", "", "comma-separated version numbers, e.g. 1,2")
		c.Flags().StringVar(&basePath, "base-path", "", "artifact base path")
		c.Flags().StringVar(&backend, "backend", "", "backend identifier")
		c.Flags().StringVar(&params, "params", "", "comma-separated key=value pairs")
	}

	var retireVersions string
	retire := &cobra.Command{
		Use:   "retire <name>",
		Short: "Retire one, several, or (with no --versions) all versions of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vs, err := parseVersionList(retireVersions)
			if err != nil {
				return err
			}
			return newClient(cfg.server).retireVersions(args[0], vs)
		},
	}
	retire.Flags().StringVar(&retireVersions, "versions", "", "comma-separated version numbers; omit to retire all")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient(cfg.server).listModels()
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	modelCmd.AddCommand(load, reload, retire, list)
	return modelCmd
}

func buildPipelineCmd(cfg *cliConfig) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Register and drive pipeline definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("pipeline requires a subcommand: register|predict|list")
		},
	}

	var definitionFile string
	register := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a pipeline definition from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body types.CreatePipelineRequest
			if err := readJSONFile(definitionFile, &body); err != nil {
				return err
			}
			return newClient(cfg.server).registerPipeline(args[0], body)
		},
	}
	register.Flags().StringVar(&definitionFile, "file", "", "path to a JSON pipeline definition (nodes/connections)")

	var inputsFile string
	predict := &cobra.Command{
		Use:   "predict <name>",
		Short: "Run one prediction through a registered pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body types.PredictHTTPRequest
			if err := readJSONFile(inputsFile, &body); err != nil {
				return err
			}
			resp, err := newClient(cfg.server).pipelinePredict(args[0], body)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	predict.Flags().StringVar(&inputsFile, "file", "", "path to a JSON tensor input set")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered pipeline definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient(cfg.server).listPipelines()
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	pipelineCmd.AddCommand(register, predict, list)
	return pipelineCmd
}

func buildModelConfigWire(versions, basePath, backend, params string) (types.ModelConfigWire, error) {
	vs, err := parseVersionList(versions)
	if err != nil {
		return types.ModelConfigWire{}, err
	}
	return types.ModelConfigWire{
		Versions: vs,
		BasePath: basePath,
		Backend:  backend,
		Params:   parseParams(params),
	}, nil
}

func parseVersionList(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseParams(s string) map[string]string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func readJSONFile(path string, out any) error {
	if path == "" {
		return fmt.Errorf("--file is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
