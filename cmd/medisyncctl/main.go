package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/medisync/medisync/internal/config"
	"github.com/medisync/medisync/internal/lock"
	"github.com/medisync/medisync/internal/store"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.medisync/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(cfg.SocketPath())

	switch args[0] {
	case "status":
		cmdStatus(c, cfg, *jsonFlag)
	case "sync":
		cmdSync(c, args[1:], *jsonFlag)
	case "conflicts":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: medisyncctl conflicts <list|resolve>")
			os.Exit(1)
		}
		cmdConflicts(c, args[1:], *jsonFlag)
	case "cache":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: medisyncctl cache <stats|refresh|clean>")
			os.Exit(1)
		}
		cmdCache(c, args[1], *jsonFlag)
	case "network":
		if len(args) < 2 || (args[1] != "online" && args[1] != "offline") {
			fmt.Fprintln(os.Stderr, "usage: medisyncctl network <online|offline>")
			os.Exit(1)
		}
		cmdNetwork(c, args[1] == "online")
	case "reset":
		cmdReset(cfg, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: medisyncctl [--config <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show agent status")
	fmt.Fprintln(os.Stderr, "  sync [--force] [table ...]    Trigger a sync cycle")
	fmt.Fprintln(os.Stderr, "  conflicts list                List recorded conflicts")
	fmt.Fprintln(os.Stderr, "  conflicts resolve <key> <json>  Resolve a conflict with the given document")
	fmt.Fprintln(os.Stderr, "  cache stats                   Show cached record counts")
	fmt.Fprintln(os.Stderr, "  cache refresh                 Re-fetch essential data")
	fmt.Fprintln(os.Stderr, "  cache clean                   Evict expired cached records")
	fmt.Fprintln(os.Stderr, "  network <online|offline>      Set the agent's connectivity state")
	fmt.Fprintln(os.Stderr, "  reset --yes                   Drop and re-create the local store (agent must be stopped)")
}

// client talks HTTP to the agent's Unix socket.
type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{http: &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}}
}

func (c *client) get(path string) json.RawMessage {
	data, err := c.tryGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach agent: %v\n", err)
		os.Exit(1)
	}
	return data
}

func (c *client) tryGet(path string) (json.RawMessage, error) {
	resp, err := c.http.Get("http://agent" + path)
	if err != nil {
		return nil, err
	}
	return readBody(resp), nil
}

func (c *client) post(path string, body any) json.RawMessage {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	resp, err := c.http.Post("http://agent"+path, "application/json", &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach agent: %v\n", err)
		os.Exit(1)
	}
	return readBody(resp)
}

func readBody(resp *http.Response) json.RawMessage {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", e.Error)
		} else {
			fmt.Fprintf(os.Stderr, "error: agent returned %d\n", resp.StatusCode)
		}
		os.Exit(1)
	}
	return data
}

func cmdStatus(c *client, cfg *config.Config, jsonOut bool) {
	data, err := c.tryGet("/v1/status")
	if err != nil {
		// No agent on the socket; report what can be told from the local
		// store alone.
		fmt.Println("Agent:     not running")
		if store.Available(cfg.DBPath()) {
			fmt.Printf("Store:     available (%s)\n", cfg.DBPath())
		} else {
			fmt.Printf("Store:     unavailable (%s)\n", cfg.DBPath())
		}
		return
	}
	if jsonOut {
		outputJSON(data)
		return
	}
	var st struct {
		FacilityID          string    `json:"facility_id"`
		State               string    `json:"state"`
		Online              bool      `json:"online"`
		Syncing             bool      `json:"syncing"`
		Pending             int       `json:"pending"`
		UnresolvedConflicts int       `json:"unresolved_conflicts"`
		LastSync            time.Time `json:"last_sync"`
	}
	mustDecode(data, &st)
	fmt.Printf("Facility:  %s\n", st.FacilityID)
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Online:    %v\n", st.Online)
	fmt.Printf("Syncing:   %v\n", st.Syncing)
	fmt.Printf("Pending:   %d\n", st.Pending)
	fmt.Printf("Conflicts: %d unresolved\n", st.UnresolvedConflicts)
	if st.LastSync.IsZero() {
		fmt.Println("Last sync: never")
	} else {
		fmt.Printf("Last sync: %s\n", st.LastSync.Local().Format(time.RFC3339))
	}
}

func cmdSync(c *client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	force := fs.Bool("force", false, "run even if a cycle is already in flight")
	_ = fs.Parse(args)

	body := map[string]any{"force": *force}
	if tables := fs.Args(); len(tables) > 0 {
		body["tables"] = tables
	}
	data := c.post("/v1/sync", body)
	if jsonOut {
		outputJSON(data)
		return
	}
	var out struct {
		Started bool `json:"started"`
		Report  struct {
			Processed int `json:"Processed"`
			Applied   int `json:"Applied"`
			Failed    int `json:"Failed"`
			Conflicts int `json:"Conflicts"`
		} `json:"report"`
	}
	mustDecode(data, &out)
	if !out.Started {
		fmt.Println("Sync skipped (offline or already running).")
		return
	}
	fmt.Printf("Processed: %d  applied: %d  failed: %d  conflicts: %d\n",
		out.Report.Processed, out.Report.Applied, out.Report.Failed, out.Report.Conflicts)
}

func cmdConflicts(c *client, args []string, jsonOut bool) {
	switch args[0] {
	case "list":
		data := c.get("/v1/conflicts")
		if jsonOut {
			outputJSON(data)
			return
		}
		var conflicts []struct {
			Key        string `json:"key"`
			Table      string `json:"table"`
			RecordID   string `json:"record_id"`
			DetectedAt int64  `json:"detected_at"`
			Resolved   bool   `json:"resolved"`
		}
		mustDecode(data, &conflicts)
		if len(conflicts) == 0 {
			fmt.Println("No conflicts recorded.")
			return
		}
		for _, cf := range conflicts {
			state := "unresolved"
			if cf.Resolved {
				state = "resolved"
			}
			fmt.Printf("%-48s %s/%s %s (%s)\n", cf.Key, cf.Table, cf.RecordID,
				time.UnixMilli(cf.DetectedAt).Local().Format(time.RFC3339), state)
		}
	case "resolve":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: medisyncctl conflicts resolve <key> <json>")
			os.Exit(1)
		}
		var resolution map[string]any
		if err := json.Unmarshal([]byte(args[2]), &resolution); err != nil {
			fmt.Fprintf(os.Stderr, "error: resolution is not valid JSON: %v\n", err)
			os.Exit(1)
		}
		data := c.post("/v1/conflicts/resolve", map[string]any{
			"key": args[1], "resolution": resolution,
		})
		if jsonOut {
			outputJSON(data)
			return
		}
		fmt.Printf("Resolved %s\n", args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown conflicts subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdCache(c *client, subcmd string, jsonOut bool) {
	switch subcmd {
	case "stats":
		data := c.get("/v1/cache/stats")
		if jsonOut {
			outputJSON(data)
			return
		}
		var stats struct {
			Counts        map[string]int `json:"Counts"`
			QueueDepth    int            `json:"QueueDepth"`
			EstimatedSize string         `json:"EstimatedSize"`
		}
		mustDecode(data, &stats)
		for table, n := range stats.Counts {
			fmt.Printf("%-15s %d\n", table, n)
		}
		fmt.Printf("queue depth:    %d\n", stats.QueueDepth)
		fmt.Printf("estimated size: %s\n", stats.EstimatedSize)
	case "refresh":
		data := c.post("/v1/cache/refresh", nil)
		if jsonOut {
			outputJSON(data)
			return
		}
		fmt.Println("Cache refresh completed.")
	case "clean":
		data := c.post("/v1/cache/clean", nil)
		if jsonOut {
			outputJSON(data)
			return
		}
		var out struct {
			Evicted int64 `json:"evicted"`
		}
		mustDecode(data, &out)
		fmt.Printf("Evicted %d expired records.\n", out.Evicted)
	default:
		fmt.Fprintf(os.Stderr, "unknown cache subcommand: %s\n", subcmd)
		os.Exit(1)
	}
}

func cmdNetwork(c *client, online bool) {
	c.post("/v1/network", map[string]bool{"online": online})
	if online {
		fmt.Println("Agent marked online.")
	} else {
		fmt.Println("Agent marked offline.")
	}
}

// cmdReset operates on the local store directly, so it refuses to run while
// an agent holds the data directory.
func cmdReset(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	yes := fs.Bool("yes", false, "confirm destroying all local data")
	_ = fs.Parse(args)
	if !*yes {
		fmt.Fprintln(os.Stderr, "reset destroys all unsynced local data; re-run with --yes to confirm")
		os.Exit(1)
	}

	lk, err := lock.Acquire(cfg.LockPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (stop the agent first)\n", err)
		os.Exit(1)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Reset(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Local store reset.")
}

func mustDecode(data json.RawMessage, v any) {
	if err := json.Unmarshal(data, v); err != nil {
		fmt.Fprintf(os.Stderr, "error: decode response: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(data json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		os.Stdout.Write(data)
		return
	}
	buf.WriteByte('\n')
	_, _ = buf.WriteTo(os.Stdout)
}
