package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/pitchlab/knowd/internal/api"
	"github.com/pitchlab/knowd/internal/config"
	"github.com/pitchlab/knowd/internal/document"
	"github.com/pitchlab/knowd/internal/embedding"
	"github.com/pitchlab/knowd/internal/ingest"
	"github.com/pitchlab/knowd/internal/parser"
	"github.com/pitchlab/knowd/internal/query"
	"github.com/pitchlab/knowd/internal/storage"
	"github.com/pitchlab/knowd/internal/vectorstore"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the knowd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running knowd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "knowd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "knowd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("knowd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("knowd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Resolve the vector backend once. Everything downstream sees the
	// VectorStore interface, never the deployment choice.
	vectors, err := vectorstore.New(vectorstore.Config{
		RemoteURL:    cfg.VectorStore.RemoteURL,
		RemoteAPIKey: cfg.VectorStore.RemoteAPIKey,
		Namespace:    cfg.VectorStore.Namespace,
	}, store.DB())
	if err != nil {
		return fmt.Errorf("configuring vector store: %w", err)
	}
	if cfg.VectorStore.RemoteURL != "" {
		slog.Info("vector store backend: remote", "url", cfg.VectorStore.RemoteURL)
	} else {
		slog.Info("vector store backend: local")
	}

	embedClient := embedding.NewClient(embedding.GatewayConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
	})

	pipe := ingest.NewPipeline(store, embedClient, vectors, cfg.Ingest.Workers)
	filesDir := filepath.Join(cfg.Storage.DataDir, "files")
	manager := document.NewManager(store, vectors, pipe, parser.New(), filesDir,
		cfg.Ingest.DefaultChunkSize, cfg.Ingest.DefaultChunkOverlap)
	engine := query.NewEngine(embedClient, vectors)

	// Start ingest worker.
	worker := ingest.NewWorker(store, manager, cfg.Ingest.PollInterval)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Documents: manager,
		Query:     engine,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	handler := api.NewAppHandler(api.AppDeps{
		Documents: manager,
		Query:     engine,
		Token:     cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "knowd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("knowd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop knowd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to knowd (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.VectorStore.RemoteURL != "" {
		printStatus("Vector store", "remote (%s)", cfg.VectorStore.RemoteURL)
	} else {
		printStatus("Vector store", "local")
	}
	printStatus("Embed model", "%s", cfg.Embedding.Model)

	if running {
		apiClient, err := newAPIClient()
		if err == nil {
			statsResp, err := apiClient.get(ctx, "/documents/stats")
			if err == nil {
				var stats struct {
					Documents     int `json:"documents"`
					Chunks        int `json:"chunks"`
					StoredVectors int `json:"stored_vectors"`
				}
				if decodeJSON(statsResp, &stats) == nil {
					printStatus("Documents", "%d", stats.Documents)
					printStatus("Chunks", "%d", stats.Chunks)
					printStatus("Vectors", "%d", stats.StoredVectors)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
