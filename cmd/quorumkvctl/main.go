// Command quorumkvctl is a JSON-RPC client for quorumkvd: it sends a
// single put/get/delete request over a line-framed TCP connection and
// prints the reply.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "quorumkvctl",
	Short:   "quorumkvctl talks JSON-RPC to a quorumkv node",
	Version: Version,
}

var addrFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "127.0.0.1:7401", "quorumkv node RPC address")
	rootCmd.AddCommand(putCmd, getCmd, deleteCmd, statusCmd)
}

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Write a key to an integer value through consensus",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value %q, want a non-negative integer: %w", args[1], err)
		}
		resp, err := call(addrFlag, "put", map[string]any{"op": "put", "key": args[0], "value": value})
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Linearisably read a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(addrFlag, "get", map[string]any{"op": "get", "key": args[0]})
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key through consensus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(addrFlag, "delete", map[string]any{"op": "delete", "key": args[0]})
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

var statusAddrFlag string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch /healthz from a node's metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := fetchHealth(statusAddrFlag)
		if err != nil {
			return err
		}
		fmt.Println(body)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddrFlag, "metrics-addr", "127.0.0.1:7402", "quorumkv node metrics address")
}
