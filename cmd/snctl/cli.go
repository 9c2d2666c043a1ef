package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/caetera/spectronaut-webui/internal/controller"
	"github.com/caetera/spectronaut-webui/internal/registry"
)

type cliConfig struct {
	serverHostname string
	serverPort     string
}

type cli struct {
	cfg  cliConfig
	http *http.Client
}

func newCLI() *cli {
	return &cli{
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *cli) rootCmd() *cobra.Command {
	command := &cobra.Command{
		Use:          "snctl",
		Short:        "CLI for interacting with the snweb backend",
		Version:      version,
		SilenceUsage: true,
	}

	command.AddCommand(
		c.filesCmd(),
		c.addCmd(),
		c.submitCmd(),
		c.statusCmd(),
		c.abortCmd(),
		c.logsCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&c.cfg.serverHostname,
		"server-hostname",
		"localhost",
		"Server hostname",
	)

	command.PersistentFlags().StringVar(
		&c.cfg.serverPort,
		"server-port",
		"8080",
		"Server port",
	)

	return command
}

func (c *cli) filesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List the staged file table",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []registry.FileEntry
			if err := c.get("/api/entries", &entries); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "NAME\tTYPE\tCONDITION\tREPLICATE\tFRACTION\tREFERENCE\t\n")
			for _, e := range entries {
				fmt.Fprintf(
					w,
					"%s\t%s\t%s\t%s\t%s\t%t\t\n",
					e.Name,
					e.Kind,
					e.Condition,
					e.Replicate,
					e.Fraction,
					e.Reference,
				)
			}

			return w.Flush()
		},
	}
}

func (c *cli) addCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "add [flags] PATH...",
		Short:   "Stage input files",
		Example: "  snctl add /work/run01.raw /work/run02.raw",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Added int `json:"added"`
			}

			if err := c.post("/api/entries", map[string]any{"paths": args}, &resp); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added %d files\n", resp.Added)

			return nil
		},
	}

	return command
}

func (c *cli) submitCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "submit [flags] BATCH_FILE",
		Short:   "Submit a batch described by a JSON file",
		Example: "  snctl submit direct-batch.json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var resp struct {
				ID string `json:"id"`
			}

			if err := c.postRaw("/api/jobs", payload, &resp); err != nil {
				return err
			}

			cmd.OutOrStdout().Write([]byte(resp.ID + "\n"))

			return nil
		},
	}

	return command
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query status of the current job",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status controller.Status
			if err := c.get("/api/jobs/current", &status); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "STATE\tWORKFLOW\tEXIT CODE\tABORT REQUESTED\tERROR\t\n")
			fmt.Fprintf(
				w,
				"%s\t%s\t%d\t%t\t%s\t\n",
				status.StateName,
				status.Workflow,
				status.ExitCode,
				status.AbortRequested,
				status.Error,
			)

			return w.Flush()
		},
	}
}

func (c *cli) abortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the current job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.post("/api/jobs/current/abort", nil, nil)
		},
	}
}

func (c *cli) logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Follow the live job log stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := url.URL{
				Scheme: "ws",
				Host:   net.JoinHostPort(c.cfg.serverHostname, c.cfg.serverPort),
				Path:   "/api/ws",
			}

			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u.String(), nil)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", u.String(), err)
			}
			defer conn.Close()

			// Drop the connection when the context is cancelled so ReadJSON
			// unblocks.
			go func() {
				<-cmd.Context().Done()
				conn.Close()
			}()

			for {
				var msg struct {
					Type    string          `json:"type"`
					Payload json.RawMessage `json:"payload"`
				}

				if err := conn.ReadJSON(&msg); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}

				switch msg.Type {
				case "log":
					var line struct {
						Text   string `json:"text"`
						Stream string `json:"stream"`
					}
					if err := json.Unmarshal(msg.Payload, &line); err != nil {
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), line.Text)
				case "status":
					var status controller.Status
					if err := json.Unmarshal(msg.Payload, &status); err != nil {
						continue
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "-- %s\n", status.StateName)
				}
			}
		},
	}
}

func (c *cli) baseURL() string {
	return "http://" + net.JoinHostPort(c.cfg.serverHostname, c.cfg.serverPort)
}

func (c *cli) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL() + path)
	if err != nil {
		return err
	}

	return decodeResponse(resp, out)
}

func (c *cli) post(path string, body any, out any) error {
	payload := []byte("{}")

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = data
	}

	return c.postRaw(path, payload, out)
}

func (c *cli) postRaw(path string, payload []byte, out any) error {
	resp, err := c.http.Post(c.baseURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}

		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
