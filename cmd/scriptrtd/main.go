// Command scriptrtd is the module/CLI surface: it boots the scripting
// runtime (native bridge, global script manager, channel-assistant
// registry, message-bus transport) against a catalog configuration
// file and either serves the daemon or runs one diagnostic console
// command against a freshly-booted instance, using the standard
// Cobra/Viper CLI conventions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/two-barrels/scriptrt/server"
)

var (
	catalogPath     string
	bootstrapConfig string
	engineID        string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scriptrtd",
		Short: "embedded PBX scripting runtime",
	}

	root.PersistentFlags().StringVar(&catalogPath, "config", "scriptrt.conf", "path to the hierarchical script-catalog configuration file")
	root.PersistentFlags().StringVar(&bootstrapConfig, "bootstrap-config", "", "optional daemon-level bootstrap file (toml/yaml/json) read through viper")
	root.PersistentFlags().StringVar(&engineID, "id", "scriptrtd", "this engine instance's id (SharedObjects owner tag)")

	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("id", root.PersistentFlags().Lookup("id"))

	root.AddCommand(newServeCmd())
	root.AddCommand(newInfoCmd())
	root.AddCommand(newEvalCmd())
	root.AddCommand(newReloadCmd())
	root.AddCommand(newLoadCmd())
	root.AddCommand(newAllocationsCmd())
	return root
}

// loadBootstrap reads --bootstrap-config through viper (exercising its
// TOML/YAML/JSON codecs via go-toml/v2) and lets its `catalog`/`id`
// keys override the --config/--id flags.
func loadBootstrap() error {
	if bootstrapConfig == "" {
		return nil
	}
	viper.SetConfigFile(bootstrapConfig)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read bootstrap config %s: %w", bootstrapConfig, err)
	}
	if v := viper.GetString("catalog"); v != "" {
		catalogPath = v
	}
	if v := viper.GetString("id"); v != "" {
		engineID = v
	}
	return nil
}

// newServerForCLI boots a fresh Server against the OS filesystem, the
// way every one-shot console command and the long-running daemon both
// need to.
func newServerForCLI() (*server.Server, error) {
	if err := loadBootstrap(); err != nil {
		return nil, err
	}
	return server.New(engineID, afero.NewOsFs(), catalogPath)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the daemon: boot the catalog and relay host messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newServerForCLI()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := s.Start(ctx); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			s.Stop()
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "list loaded scripts and live channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newServerForCLI()
			if err != nil {
				return err
			}
			defer s.Stop()

			scripts, channels := s.Info()
			fmt.Println("scripts:")
			for _, name := range scripts {
				fmt.Println("  " + name)
			}
			fmt.Println("channels:")
			for _, id := range channels {
				fmt.Println("  " + id)
			}
			return nil
		},
	}
}

func newEvalCmd() *cobra.Command {
	var evalCtx string
	cmd := &cobra.Command{
		Use:   "eval <expr>...",
		Short: "evaluate an expression against a script context (or a fresh one)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newServerForCLI()
			if err != nil {
				return err
			}
			defer s.Stop()

			expr := args[0]
			for _, a := range args[1:] {
				expr += " " + a
			}
			v, err := s.Eval(evalCtx, expr)
			if err != nil {
				return err
			}
			fmt.Println(v.Str())
			return nil
		},
	}
	cmd.Flags().StringVar(&evalCtx, "ctx", "", "name of a loaded script whose first instance context to evaluate against")
	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload <script>",
		Short: "reparse and re-run a loaded script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newServerForCLI()
			if err != nil {
				return err
			}
			defer s.Stop()
			return s.Reload(args[0])
		},
	}
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [<name>=]<file>",
		Short: "install or replace a dynamic script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newServerForCLI()
			if err != nil {
				return err
			}
			defer s.Stop()

			name, file := "", args[0]
			for i := 0; i < len(file); i++ {
				if file[i] == '=' {
					name, file = file[:i], file[i+1:]
					break
				}
			}
			return s.Load(name, file)
		},
	}
}

func newAllocationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allocations <instance|total> <script> <top>",
		Short: "report the allocation-tracker count for a loaded script",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newServerForCLI()
			if err != nil {
				return err
			}
			defer s.Stop()

			top, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid top count %q: %w", args[2], err)
			}
			fmt.Println(s.Allocations(args[0], args[1], top))
			return nil
		},
	}
}
