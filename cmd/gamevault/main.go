// ABOUTME: Entry point for the gamevault server
// ABOUTME: serve, init, keygen, set-password, and health subcommands

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/gamevault/internal/auth"
	"github.com/2389/gamevault/internal/config"
	"github.com/2389/gamevault/internal/instance"
	"github.com/2389/gamevault/internal/keystore"
	"github.com/2389/gamevault/internal/server"
	"github.com/2389/gamevault/internal/store"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
                                               _ _
   __ _  __ _ _ __ ___   _____   ____ _ _   _| | |_
  / _' |/ _' | '_ ' _ \ / _ \ \ / / _' | | | | | __|
 | (_| | (_| | | | | | |  __/\ V / (_| | |_| | | |_
  \__, |\__,_|_| |_| |_|\___| \_/ \__,_|\__,_|_|\__|
  |___/
`

func usage() {
	fmt.Println("Usage: gamevault <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve          Start the server")
	fmt.Println("  init           Create a new config file interactively")
	fmt.Println("  keygen         Generate the server key pair and print the public key")
	fmt.Println("  set-password   Set or reset the operator password")
	fmt.Println("  health         Check server health")
	fmt.Println("  version        Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "keygen":
		err = runKeygen(ctx)
	case "set-password":
		err = runSetPassword(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, configPath, fmt.Errorf("no config at %s (run 'gamevault init' first)", configPath)
		}
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Keys:      %s\n", cfg.Keys.Dir)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	if cfg.Auth.Lockout.MaxFailures > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Lockout:   %d failures per %s\n", cfg.Auth.Lockout.MaxFailures, cfg.Auth.Lockout.Window)
	} else {
		yellow.Println("    ! Lockout disabled")
	}

	fmt.Println()

	logger.Info("starting gamevault",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tailscale", cfg.Tailscale.Enabled,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	registered, err := srv.Instance().IsSetUp(ctx)
	if err != nil {
		logger.Warn("could not read instance status", "error", err)
	} else if !registered {
		yellow.Println("    ! No operator password yet: run 'gamevault set-password' or POST /api/instance/setup")
		fmt.Println()
	}

	return srv.Run(ctx)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("gamevault configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.Path())
	if _, err := os.Stat(outputFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first to regenerate", outputFile)
	}

	cfg := config.Default(config.DataDir())

	fmt.Println("\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", cfg.Server.HTTPAddr)
	cfg.Database.Path = prompt(reader, "SQLite database path", cfg.Database.Path)
	cfg.Keys.Dir = prompt(reader, "Server key directory", cfg.Keys.Dir)

	fmt.Println("\n--- Tailscale Configuration ---")
	cfg.Tailscale.Enabled = yes(prompt(reader, "Enable Tailscale?", "no"))
	if cfg.Tailscale.Enabled {
		cfg.Tailscale.Hostname = prompt(reader, "Tailscale hostname", cfg.Tailscale.Hostname)
		cfg.Tailscale.AuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		cfg.Tailscale.Ephemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		cfg.Tailscale.HTTPS = yes(prompt(reader, "Serve HTTPS with tailnet certificates?", "yes"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Write(outputFile, cfg); err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  gamevault set-password   # choose the operator password")
	fmt.Println("  gamevault serve          # start the server")
	return nil
}

func runKeygen(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	keys := keystore.NewFileStore(cfg.Keys.Dir, nil)
	existed, err := keys.Exists(ctx)
	if err != nil {
		return err
	}

	sigs := auth.NewSignatureService(keys, nil, auth.WithKeyBits(cfg.Keys.Bits))
	if !existed {
		fmt.Fprintf(os.Stderr, "Generating %d-bit RSA key pair in %s...\n", cfg.Keys.Bits, cfg.Keys.Dir)
	}
	if err := sigs.GenerateKeyPair(ctx); err != nil {
		return err
	}

	pub, err := sigs.PublicKey(ctx)
	if err != nil {
		return err
	}
	if existed {
		color.New(color.FgYellow).Fprintln(os.Stderr, "Key pair already exists; it is never replaced.")
	}
	fmt.Print(pub)
	return nil
}

func runSetPassword(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	svc := instance.NewService(s, auth.NewCryptography(), nil)
	if err := svc.SetPassword(ctx, password); err != nil {
		return err
	}

	color.New(color.FgGreen).Println("  ✓ Operator password set; existing sessions were signed out")
	return nil
}

// readPassword prompts twice with echo off, or reads one line from a pipe.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return "", fmt.Errorf("password is empty")
		}
		return line, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password confirmation: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	if cfg.Tailscale.Enabled {
		scheme := "http"
		if cfg.Tailscale.HTTPS {
			scheme = "https"
		}
		url = fmt.Sprintf("%s://%s/health", scheme, cfg.Tailscale.Hostname)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}
