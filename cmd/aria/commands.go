package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/aria/internal/admin"
)

// adminFlags carries the connection settings shared by the thin-client
// commands.
type adminFlags struct {
	addr  string
	token string
}

func (f *adminFlags) register(cmd *cobra.Command) {
	defaultAddr := os.Getenv("ARIA_ADMIN_ADDR")
	if defaultAddr == "" {
		defaultAddr = "http://127.0.0.1:8790"
	}
	cmd.PersistentFlags().StringVar(&f.addr, "addr", defaultAddr,
		"Admin API address of the running instance")
	cmd.PersistentFlags().StringVar(&f.token, "token", os.Getenv("ARIA_ADMIN_TOKEN"),
		"Admin API token (or set ARIA_ADMIN_TOKEN)")
}

func (f *adminFlags) client() *admin.Client {
	return admin.NewClient(f.addr, f.token)
}

func buildStatusCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show runtime status of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := flags.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	flags.register(cmd)
	return cmd
}

func buildSessionCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions on a running instance",
	}
	flags.register(cmd)

	var reason string
	closeCmd := &cobra.Command{
		Use:   "close <session-id>",
		Short: "Force-close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.client().CloseSession(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			cmd.Printf("session %s closed\n", args[0])
			return nil
		},
	}
	closeCmd.Flags().StringVar(&reason, "reason", "admin_close", "End reason recorded in session metadata")
	cmd.AddCommand(closeCmd)
	return cmd
}

func buildAgentCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage pooled agents on a running instance",
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "terminate <agent-id>",
		Short: "Terminate an agent and free its pool slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.client().TerminateAgent(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("agent %s terminated\n", args[0])
			return nil
		},
	})
	return cmd
}

func buildBreakerCmd() *cobra.Command {
	var flags adminFlags
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Manage circuit breakers on a running instance",
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <endpoint>",
		Short: "Manually close an endpoint's circuit breaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.client().ResetBreaker(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("breaker %s reset\n", args[0])
			return nil
		},
	})
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	cmd.Println(string(out))
	return nil
}
