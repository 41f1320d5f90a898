// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adiadia/session-recorder/internal/domain"
)

const defaultServer = "http://localhost:8080"

type rootOptions struct {
	server  string
	token   string
	timeout time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.token, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "recorderctl",
		Short:         "Control a running session recorder",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("RECORDER_URL", defaultServer), "Recorder base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CONTROL_TOKEN"), "Control token for start, stop and export")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(startCmd(opts))
	rootCmd.AddCommand(stopCmd(opts))
	rootCmd.AddCommand(stateCmd(opts))
	rootCmd.AddCommand(logCmd(opts))
	rootCmd.AddCommand(exportCmd(opts))

	return rootCmd
}

func startCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start recording on the active tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().post(cmd.Context(), "/recording/start", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recording started")
			return nil
		},
	}
}

func stopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the current recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().post(cmd.Context(), "/recording/stop", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recording stopped")
			return nil
		},
	}
}

func stateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the recording session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var state domain.SessionState
			if err := opts.client().getJSON(cmd.Context(), "/recording/session", &state); err != nil {
				return err
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recording:    %t\n", state.IsRecording)
			if state.IsRecording {
				fmt.Fprintf(out, "Active tab:   %s\n", intOrDash(state.ActiveTabID))
				fmt.Fprintf(out, "Window:       %s\n", intOrDash(state.WindowID))
				fmt.Fprintf(out, "Window state: %s\n", state.WindowState)
				fmt.Fprintf(out, "Started:      %s\n", state.SessionStartTime.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func logCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Print the recorded event log as XML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp logResponse
			if err := opts.client().getJSON(cmd.Context(), "/events/log", &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Log)
			return nil
		},
	}
}

func exportCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the event log, or save it through the recorder's export sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			out := cmd.OutOrStdout()

			save, _ := cmd.Flags().GetBool("save")
			if save {
				var saved savedExport
				if err := client.postJSON(cmd.Context(), "/events/export", &saved); err != nil {
					return err
				}
				fmt.Fprintf(out, "Saved %s to %s\n", saved.File, saved.Location)
				return nil
			}

			name, body, err := client.download(cmd.Context(), "/events/export")
			if err != nil {
				return err
			}

			dest, _ := cmd.Flags().GetString("output")
			path := exportPath(dest, name)
			if err := os.WriteFile(path, body, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(out, "Wrote %s (%d bytes)\n", path, len(body))
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", ".", "Directory or file to write the export to")
	cmd.Flags().Bool("save", false, "Save on the server instead of downloading")
	return cmd
}

// exportPath places the export inside dest when dest is a directory.
func exportPath(dest, name string) string {
	if dest == "" {
		dest = "."
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return filepath.Join(dest, name)
	}
	if strings.HasSuffix(dest, string(os.PathSeparator)) {
		return filepath.Join(dest, name)
	}
	return dest
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
