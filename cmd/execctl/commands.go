package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/danmuck/execctl/internal/agent"
	"github.com/danmuck/execctl/internal/config"
	"github.com/danmuck/execctl/internal/posixrun"
	"github.com/danmuck/execctl/internal/resource"
	"github.com/spf13/cobra"
)

var errPassFailed = errors.New("one or more resources failed")

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "execctl",
		Short:         "Converge exec::Run resources on a host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(root)

	root.AddCommand(
		newPassCmd(flags, posixrun.ModeApply),
		newPassCmd(flags, posixrun.ModeReload),
		newServeCmd(flags),
		newHandlersCmd(flags),
		newValidateCmd(flags),
		newInitCmd(),
	)
	return root
}

func buildService(cmd *cobra.Command, flags *globalFlags) (*agent.Service, error) {
	cfg, err := flags.settings(cmd)
	if err != nil {
		return nil, err
	}
	manifest, err := resource.LoadManifest(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	hostIO, err := cfg.HostIO()
	if err != nil {
		return nil, err
	}
	return agent.New(cfg, manifest, hostIO, newLogger(cfg))
}

func newPassCmd(flags *globalFlags, mode posixrun.Mode) *cobra.Command {
	var asJSON bool
	use, short := "apply [name...]", "Run a direct_apply pass over the manifest or the named resources"
	if mode == posixrun.ModeReload {
		use, short = "reload [name...]", "Run a reload pass over the manifest or the named resources"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(cmd, flags)
			if err != nil {
				return err
			}

			var outcomes []agent.Outcome
			if len(args) == 0 {
				outcomes = svc.Reconcile(cmd.Context(), mode)
			} else {
				for _, name := range args {
					o, err := svc.ApplyOne(cmd.Context(), name, mode)
					if err != nil {
						return err
					}
					outcomes = append(outcomes, o)
				}
			}

			if err := printOutcomes(cmd.OutOrStdout(), outcomes, asJSON); err != nil {
				return err
			}
			for _, o := range outcomes {
				if o.Failed() {
					return errPassFailed
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print outcomes as JSON")
	return cmd
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP surface until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := buildService(cmd, flags)
			if err != nil {
				return err
			}
			return svc.Run(cmd.Context())
		},
	}
}

func newHandlersCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "handlers",
		Short: "List resource kinds and the provider bound on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := buildService(cmd, flags)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tPROVIDER\tRELOAD\tAVAILABLE")
			for _, h := range svc.Handlers() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", h.Kind, h.Provider, h.CanReload, h.Available)
			}
			return w.Flush()
		},
	}
}

func newValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the agent config and manifest without executing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.settings(cmd)
			if err != nil {
				return err
			}
			m, err := resource.LoadManifest(cfg.Manifest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest %s: %d resources for host %q\n", cfg.Manifest, len(m.Runs), m.Host)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	var (
		kind  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter agent config or manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "manifest", "template kind: agent|manifest")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func printOutcomes(w io.Writer, outcomes []agent.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcomes)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tCHANGE\tDIAGNOSTIC")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Name, o.State, o.Change, firstLine(o.Diagnostic))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
