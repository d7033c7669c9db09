package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gluk-w/devsync/internal/config"
	"github.com/gluk-w/devsync/internal/credentials"
	"github.com/gluk-w/devsync/internal/database"
	"github.com/gluk-w/devsync/internal/logging"
)

const defaultServer = "http://localhost:8111"

type execResult struct {
	Hostname string  `json:"hostname"`
	Command  string  `json:"command"`
	Output   *string `json:"output"`
	Error    string  `json:"error"`
}

// runExec sends a show command to a running server and prints one block per
// device. It returns the process exit code.
func runExec(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host := fs.String("host", "", "Hostname, or hostname substring unless --exact")
	command := fs.String("command", "", "Show command to run")
	server := fs.String("server", envOr("DEVSYNC_SERVER", defaultServer), "Server base URL")
	token := fs.String("token", os.Getenv("DEVSYNC_API_TOKEN"), "API token")
	enable := fs.Bool("enable", false, "Enter privileged mode first")
	exact := fs.Bool("exact", false, "Match the hostname exactly")
	timeout := fs.Duration("timeout", 2*time.Minute, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *host == "" || *command == "" {
		fmt.Fprintln(stderr, `Usage: devsync --exec --host <hostname> --command "<show command>" [--server URL] [--enable] [--exact]`)
		return 2
	}

	path := "/api/v1/commands/fanout"
	if *exact {
		path = "/api/v1/commands"
	}
	body, _ := json.Marshal(map[string]interface{}{
		"hostname":    *host,
		"command":     *command,
		"enable_mode": *enable,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(*server, "/")+path, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read response: %v\n", err)
		return 1
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			fmt.Fprintln(stderr, e.Detail)
		} else {
			fmt.Fprintf(stderr, "HTTP Error: %s\n", resp.Status)
		}
		return 1
	}

	var results []execResult
	if *exact {
		var one execResult
		err = json.Unmarshal(data, &one)
		results = []execResult{one}
	} else {
		err = json.Unmarshal(data, &results)
	}
	if err != nil {
		fmt.Fprintf(stderr, "JSON Decode Error: %v\n", err)
		return 1
	}
	printResults(stdout, results)
	return 0
}

func printResults(w io.Writer, results []execResult) {
	for _, r := range results {
		fmt.Fprintf(w, "Hostname: %s\n", r.Hostname)
		fmt.Fprintf(w, "Command: %s\n", r.Command)
		switch {
		case r.Output != nil:
			fmt.Fprintf(w, "Output:\n%s\n", *r.Output)
		case r.Error != "":
			fmt.Fprintf(w, "Error:\n%s\n", r.Error)
		}
		fmt.Fprintln(w, strings.Repeat("-", 40))
	}
}

// runImport loads a YAML inventory straight into the registry. Imported
// devices are connected by the server's next reconcile pass.
func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "Inventory YAML file")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: devsync --import --file <inventory.yaml>")
		return 2
	}

	if err := config.Load(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg := config.Cfg
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console"}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := database.Init(cfg.DatabaseDriver, cfg.DatabasePath()); err != nil {
		fmt.Fprintf(os.Stderr, "Database init: %v\n", err)
		return 1
	}
	defer database.Close()

	res, err := importInventory(context.Background(), *file, database.NewDeviceStore(database.DB), credentials.NewManager())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}
	fmt.Printf("Imported %d devices (%d created, %d updated).\n", res.Created+res.Updated, res.Created, res.Updated)
	return 0
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
