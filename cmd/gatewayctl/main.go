// Copyright 2026 Semblance AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/semblance-ai/gateway/internal/client"
	"github.com/semblance-ai/gateway/internal/config"
	"github.com/semblance-ai/gateway/internal/keys"
	"github.com/semblance-ai/gateway/internal/protocol"
)

// Version information (injected via ldflags at build time)
var version = "dev"

var flagSocket string

func main() {
	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Inspect and control the local trust gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagSocket, "socket", "", "Gateway socket path override")

	root.AddCommand(
		statusCmd(),
		trustCmd(),
		logCmd(),
		pendingCmd(),
		approveCmd(),
		rejectCmd(),
		escalationsCmd(),
		connectorsCmd(),
		tierCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// dial resolves the endpoint and signing key shared with the daemon.
func dial() (*client.Client, error) {
	endpoint := flagSocket
	if endpoint == "" {
		if runtime.GOOS == "windows" {
			endpoint = config.PipeName()
		} else {
			p, err := config.SocketPath()
			if err != nil {
				return nil, err
			}
			endpoint = p
		}
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	key, err := keys.SigningKey(dataDir)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	return client.New(endpoint, key), nil
}

// call performs one action and fails the command on a gateway error.
func call(action string, payload any) (*protocol.Response, error) {
	c, err := dial()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp, err := c.Do(ctx, action, payload)
	if err != nil {
		return nil, err
	}
	if !resp.Success && resp.Error != nil {
		return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp, nil
}

func printData(data any) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Println(data)
		return
	}
	fmt.Println(string(out))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway reachability and autonomy configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call("get_autonomy_config", nil)
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
}

func trustCmd() *cobra.Command {
	var attempts bool
	var history int
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Show network trust status and the service allowlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case attempts:
				resp, err := call("get_unauthorized_attempts", nil)
				if err != nil {
					return err
				}
				printData(resp.Data)
			case history > 0:
				resp, err := call("get_connection_history", map[string]any{"limit": history})
				if err != nil {
					return err
				}
				printData(resp.Data)
			default:
				status, err := call("get_network_trust_status", nil)
				if err != nil {
					return err
				}
				printData(status.Data)
				allowlist, err := call("get_network_allowlist", nil)
				if err != nil {
					return err
				}
				printData(allowlist.Data)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&attempts, "attempts", false, "Show unauthorized connection attempts instead")
	cmd.Flags().IntVar(&history, "history", 0, "Show the last N allowlist connections instead")
	return cmd
}

func logCmd() *cobra.Command {
	var verify bool
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verify {
				resp, err := call("verify_audit_chain", nil)
				if err != nil {
					return err
				}
				printData(resp.Data)
				return nil
			}
			resp, err := call("get_action_log", map[string]any{"limit": limit, "offset": offset})
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Recompute and verify the hash chain")
	cmd.Flags().IntVar(&limit, "limit", 50, "Number of entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Pagination offset")
	return cmd
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List actions waiting for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call("get_pending_actions", nil)
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <action-id>",
		Short: "Approve and execute a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call("approve_action", map[string]any{"actionId": args[0]})
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
}

func rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <action-id>",
		Short: "Reject a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call("reject_action", map[string]any{"actionId": args[0]})
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
}

func escalationsCmd() *cobra.Command {
	var accept, dismiss string
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "List or respond to autonomy escalation prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accept != "" || dismiss != "" {
				promptID, accepted := accept, true
				if dismiss != "" {
					promptID, accepted = dismiss, false
				}
				resp, err := call("respond_to_escalation", map[string]any{
					"promptId": promptID,
					"accepted": accepted,
				})
				if err != nil {
					return err
				}
				printData(resp.Data)
				return nil
			}
			resp, err := call("get_active_escalations", nil)
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
	cmd.Flags().StringVar(&accept, "accept", "", "Accept the escalation prompt with this id")
	cmd.Flags().StringVar(&dismiss, "dismiss", "", "Dismiss the escalation prompt with this id")
	cmd.MarkFlagsMutuallyExclusive("accept", "dismiss")
	return cmd
}

func connectorsCmd() *cobra.Command {
	var connectorID string
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "Show connector authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectorID == "" {
				return fmt.Errorf("--id is required")
			}
			resp, err := call("connector.auth_status", map[string]any{"connector": connectorID})
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
	cmd.Flags().StringVar(&connectorID, "id", "", "Connector to query (pocket, todoist, slack, ...)")
	return cmd
}

func tierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tier <domain> [tier]",
		Short: "Show or set the autonomy tier for a domain",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				resp, err := call("get_autonomy_config", nil)
				if err != nil {
					return err
				}
				printData(resp.Data)
				return nil
			}
			resp, err := call("set_autonomy_tier", map[string]any{
				"domain": args[0],
				"tier":   args[1],
			})
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
	return cmd
}
