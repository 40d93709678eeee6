package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drill-ssh/drill"
	"github.com/drill-ssh/drill/pkg/client"
	"github.com/spf13/cobra"
)

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// TunnelFlags holds the fields of a tunnel record for the add command.
type TunnelFlags struct {
	Name       string
	LocalHost  string
	LocalPort  string
	RemoteHost string
	RemotePort string
	SSHUser    string
	SSHHost    string
	SSHPort    string
	PrivateKey string
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:           "drill",
		Short:         "drill manages SSH local port-forwarding tunnels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", "", "path to config.toml (default ~/.drill/config.toml)")
	root.PersistentFlags().StringVar(&gf.APIUrl, "api", "", "daemon API base URL (default http://127.0.0.1:7440/api)")
	root.PersistentFlags().DurationVar(&gf.APITimeout, "api-timeout", 10*time.Second, "daemon API request timeout")

	root.AddCommand(
		newServeCmd(gf),
		newListCmd(gf),
		newAddCmd(gf),
		newRemoveCmd(gf),
		newStartCmd(gf),
		newStopCmd(gf),
		newStatusCmd(gf),
		newTestCmd(gf),
	)
	return root
}

func apiClient(gf *GlobalFlags) *client.Client {
	c := client.DefaultConfig()
	if gf.APIUrl != "" {
		c.BaseURL = gf.APIUrl
	}
	c.Timeout = gf.APITimeout
	return client.New(c)
}

func cmdContext(gf *GlobalFlags) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), gf.APITimeout)
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tunnel supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := drill.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if err := drill.RegisterMetricsDefault(); err != nil {
				return err
			}
			mgr, err := drill.New(cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			srv := mgr.NewHTTPServer(cfg.Listen, "/api")
			mgr.Logger().Info("drill daemon listening", "addr", cfg.Listen, "tunnels", len(mgr.Tunnels()))

			// Cleanup on termination is part of the process lifetime
			// contract: no forwarding subprocess may outlive the daemon.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			mgr.Logger().Info("shutting down", "signal", sig.String())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				mgr.Logger().Warn("http shutdown", "error", err)
			}
			mgr.Cleanup()
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func newListCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tunnels and their statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(gf)
			defer cancel()
			ts, err := apiClient(gf).List(ctx)
			if err != nil {
				return err
			}
			if len(ts) == 0 {
				cmd.Println("no tunnels registered")
				return nil
			}
			for _, t := range ts {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-12s %s -> %s:%s via %s\n",
					t.Name, t.Status.State, t.LocalPort, t.RemoteHost, t.RemotePort, t.Target())
			}
			return nil
		},
	}
}

func newAddCmd(gf *GlobalFlags) *cobra.Command {
	tf := &TunnelFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(gf)
			defer cancel()
			t := drill.Tunnel{
				Name:       tf.Name,
				LocalHost:  tf.LocalHost,
				LocalPort:  tf.LocalPort,
				RemoteHost: tf.RemoteHost,
				RemotePort: tf.RemotePort,
				SSHUser:    tf.SSHUser,
				SSHHost:    tf.SSHHost,
				SSHPort:    tf.SSHPort,
				PrivateKey: tf.PrivateKey,
			}
			added, err := apiClient(gf).Add(ctx, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tunnel %q registered (id %s)\n", added.Name, added.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tf.Name, "name", "", "tunnel name (required)")
	cmd.Flags().StringVar(&tf.LocalHost, "local-host", "127.0.0.1", "local bind host")
	cmd.Flags().StringVar(&tf.LocalPort, "local-port", "", "local port (required)")
	cmd.Flags().StringVar(&tf.RemoteHost, "remote-host", "", "remote forward host (required)")
	cmd.Flags().StringVar(&tf.RemotePort, "remote-port", "", "remote forward port (required)")
	cmd.Flags().StringVar(&tf.SSHUser, "ssh-user", "", "ssh user (required)")
	cmd.Flags().StringVar(&tf.SSHHost, "ssh-host", "", "ssh host (required)")
	cmd.Flags().StringVar(&tf.SSHPort, "ssh-port", "22", "ssh port")
	cmd.Flags().StringVar(&tf.PrivateKey, "key", "", "private key path")
	for _, f := range []string{"name", "local-port", "remote-host", "remote-port", "ssh-user", "ssh-host"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newRemoveCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Stop (if active) and unregister a tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(gf)
			defer cancel()
			if err := apiClient(gf).Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tunnel %q removed\n", args[0])
			return nil
		},
	}
}

func newStartCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(gf)
			defer cancel()
			if err := apiClient(gf).Start(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tunnel %q connected\n", args[0])
			return nil
		},
	}
}

func newStopCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(gf)
			defer cancel()
			if err := apiClient(gf).Stop(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tunnel %q disconnected\n", args[0])
			return nil
		},
	}
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of every tunnel started this session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(gf)
			defer cancel()
			sts, err := apiClient(gf).Statuses(ctx)
			if err != nil {
				return err
			}
			if len(sts) == 0 {
				cmd.Println("no tunnels started yet")
				return nil
			}
			for name, st := range sts {
				line := fmt.Sprintf("%-20s %s", name, st.State)
				if st.Message != "" {
					line += "  " + st.Message
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newTestCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "test <name>",
		Short: "Run a one-shot SSH connectivity probe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Probes can take the full ssh connect timeout; give them room.
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			msg, err := apiClient(gf).Test(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}
