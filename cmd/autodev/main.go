// Command autodev runs the sandboxed code-change engine: an HTTP server
// that turns chat-triggered change requests into verified pull requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"autodev/pkg/agent"
	"autodev/pkg/apply"
	"autodev/pkg/approval"
	"autodev/pkg/chat"
	"autodev/pkg/config"
	"autodev/pkg/logx"
	"autodev/pkg/metrics"
	"autodev/pkg/persistence"
	"autodev/pkg/plan"
	"autodev/pkg/server"
	"autodev/pkg/tracker"
	"autodev/pkg/verify"
	"autodev/pkg/workflow"
	"autodev/pkg/workspace"
)

func main() {
	var configPath string
	var listenAddr string
	flag.StringVar(&configPath, "config", "config.yaml", "path to YAML configuration")
	flag.StringVar(&listenAddr, "listen", "", "listen address override")
	flag.Parse()

	logger := logx.NewLogger("main")
	if err := run(configPath, listenAddr, logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string, logger *logx.Logger) error {
	if err := loadSecrets(logger); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	githubToken := optionalSecret(config.SecretGitHubToken, logger)
	trackerKey := optionalSecret(config.SecretTrackerAPIKey, logger)

	model, err := agent.NewClient(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build LLM client: %w", err)
	}
	llmLogger := logx.NewLogger("llm")
	client := agent.NewMeteredClient(agent.NewRetryingClient(model, llmLogger), llmLogger)

	store, err := persistence.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var usage *metrics.QueryService
	if cfg.Metrics.QueryURL != "" {
		usage, err = metrics.NewQueryService(cfg.Metrics.QueryURL)
		if err != nil {
			return fmt.Errorf("failed to build metrics client: %w", err)
		}
	}

	registry := approval.NewRegistry(store)
	orch := workflow.New(cfg, workflow.Deps{
		Workspaces: workspace.NewManager(&cfg.Workspace, &cfg.Git, githubToken),
		Planner:    plan.NewGenerator(client),
		Applier:    apply.NewApplier(),
		Verifier:   verify.NewVerifier(client),
		Gate:       approval.NewGate(&cfg.Approval),
		Approvals:  registry,
		Notifier:   chat.NewNotifier(cfg.Chat.WebhookURL),
		Tracker:    tracker.NewClient(cfg.Tracker.APIURL, trackerKey),
		Store:      store,
	})

	srv := server.New(cfg, orch, registry, store, usage)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// loadSecrets decrypts the local secrets file when one exists,
// prompting for the password on the terminal. Without a secrets file,
// secrets come from the environment.
func loadSecrets(logger *logx.Logger) error {
	if !config.SecretsFileExists(".") {
		return nil
	}
	fmt.Fprint(os.Stderr, "Secrets password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	secrets, err := config.DecryptSecretsFile(".", string(password))
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	logger.Info("loaded %d secret(s)", len(secrets))
	return nil
}

func optionalSecret(name string, logger *logx.Logger) string {
	value, err := config.GetSecret(name)
	if err != nil {
		logger.Warn("secret %s is not set", name)
		return ""
	}
	return value
}
