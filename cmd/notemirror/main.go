// notemirror mirrors a cloud notebook account into a local cache and derives
// page images from the cached documents on demand.
//
// Sub-commands:
//
//	notemirror login              Authenticate and save a session token
//	notemirror logout             Discard the saved session token
//	notemirror account            Show the remote account profile
//	notemirror ls [folder-id]     List a folder (0 = root)
//	notemirror pages <folder-id> <file-name>            List a document's pages
//	notemirror page <folder-id> <file-name> <page>      Write one page as PNG
//	notemirror status             Show local cache statistics
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/notemirror/notemirror/internal/cloud"
	"github.com/notemirror/notemirror/internal/config"
	"github.com/notemirror/notemirror/internal/logging"
	"github.com/notemirror/notemirror/internal/notebook"
	"github.com/notemirror/notemirror/internal/retry"
	"github.com/notemirror/notemirror/internal/store"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "login":
		cmdLogin(cfg, args)
	case "logout":
		cmdLogout(cfg)
	case "account":
		cmdAccount(cfg)
	case "ls":
		cmdList(cfg, args)
	case "pages":
		cmdPages(cfg, args)
	case "page":
		cmdPage(cfg, args)
	case "status":
		cmdStatus(cfg)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: notemirror <login|logout|account|ls|pages|page|status> [args]")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func tokenPath() string {
	return filepath.Join(filepath.Dir(config.DefaultPath()), "token.json")
}

// remote builds the authenticated remote service from config.
func remote(cfg *config.Config) *cloud.Service {
	if cfg.Account == "" {
		fatal("no account configured. Run 'notemirror login' first")
	}
	client := cloud.NewClient(cfg.BaseURL, cfg.RemoteTimeout)
	sessions := cloud.NewSessionManager(client, cfg.Account, cfg.Password,
		cloud.WithSessionStore(&cloud.FileSessionStore{Path: tokenPath()}),
		cloud.WithReauthCallback(func() {
			fmt.Fprintln(os.Stderr, "Credentials no longer valid. Run 'notemirror login' again.")
		}),
	)
	return cloud.NewService(client, sessions)
}

// localStore builds the cache coordinator for the configured account.
func localStore(cfg *config.Config, svc *cloud.Service) *store.LocalStore {
	accountID := accountNamespace(cfg, svc)

	parsers := notebook.NewRegistry()
	parsers.Register(".png", notebook.ImageParser{})
	parsers.Register(".jpg", notebook.ImageParser{})
	parsers.Register(".jpeg", notebook.ImageParser{})

	layout := store.Layout{Root: cfg.StorageDir, AccountID: accountID}
	return store.New(layout, svc, store.Options{
		MetadataTTL: cfg.MetadataTTL,
		Parsers:     parsers,
	})
}

// accountNamespace resolves the account id used as the cache namespace,
// querying the remote once and persisting the answer in the config file.
func accountNamespace(cfg *config.Config, svc *cloud.Service) string {
	if cfg.AccountID != "" {
		return cfg.AccountID
	}
	acct, err := svc.QueryAccount(context.Background(), cfg.Account)
	if err != nil {
		fatal("resolve account: %v", err)
	}
	cfg.AccountID = acct.ID
	if err := cfg.Save(config.DefaultPath()); err != nil {
		logging.S().Warnf("failed to persist account id: %v", err)
	}
	return acct.ID
}

// withRetry retries an operation on transport failures only; API and auth
// failures surface immediately.
func withRetry[T any](fn func() (T, error)) (T, error) {
	return retry.Do(context.Background(), retry.DefaultConfig(), func() (T, error) {
		v, err := fn()
		var netErr *cloud.NetworkError
		if errors.As(err, &netErr) {
			return v, retry.Retryable(err)
		}
		return v, err
	})
}

func cmdLogin(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	account := fs.String("account", cfg.Account, "Account email")
	savePassword := fs.Bool("save-password", false, "Store the password in the config file for automatic re-login")
	fs.Parse(args)

	reader := bufio.NewReader(os.Stdin)
	if *account == "" {
		fmt.Print("Account: ")
		line, _ := reader.ReadString('\n')
		*account = strings.TrimSpace(line)
	}

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fatal("reading password: %v", err)
	}
	password := string(passwordBytes)

	client := cloud.NewClient(cfg.BaseURL, cfg.RemoteTimeout)
	sessions := cloud.NewSessionManager(client, *account, password,
		cloud.WithSessionStore(&cloud.FileSessionStore{Path: tokenPath()}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := sessions.Token(ctx); err != nil {
		fatal("login failed: %v", err)
	}

	cfg.Account = *account
	if *savePassword {
		cfg.Password = password
	}
	if err := cfg.Save(config.DefaultPath()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save config: %v\n", err)
	}
	fmt.Printf("Login successful. Session saved to %s\n", tokenPath())
}

func cmdLogout(cfg *config.Config) {
	if err := (&cloud.FileSessionStore{Path: tokenPath()}).Delete(); err != nil {
		fatal("remove session: %v", err)
	}
	fmt.Println("Logged out.")
}

func cmdAccount(cfg *config.Config) {
	svc := remote(cfg)
	acct, err := withRetry(func() (*cloud.Account, error) {
		return svc.QueryAccount(context.Background(), cfg.Account)
	})
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Account:     %s\n", cfg.Account)
	fmt.Printf("User ID:     %s\n", acct.ID)
	fmt.Printf("User name:   %s\n", acct.Name)
	if acct.FileServer != "" {
		fmt.Printf("File server: %s\n", acct.FileServer)
	}
}

func cmdList(cfg *config.Config, args []string) {
	folderID := int64(0)
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fatal("invalid folder id %q", args[0])
		}
		folderID = id
	}

	svc := remote(cfg)
	s := localStore(cfg, svc)
	snap, err := withRetry(func() (*store.FolderSnapshot, error) {
		return s.BrowseFolder(context.Background(), folderID)
	})
	if err != nil {
		fatal("%v", err)
	}

	for _, e := range snap.Entries {
		kind := "file"
		if e.IsFolder {
			kind = "dir "
		}
		fmt.Printf("%s  %12d  %10d  %s\n", kind, e.ID, e.Size, e.Name)
	}
	fmt.Printf("%d entries (fetched %s)\n", len(snap.Entries), snap.FetchedAt.Format(time.RFC3339))
}

// resolveEntry finds a file entry by name within a folder listing.
func resolveEntry(s *store.LocalStore, folderID int64, name string) cloud.Entry {
	snap, err := withRetry(func() (*store.FolderSnapshot, error) {
		return s.BrowseFolder(context.Background(), folderID)
	})
	if err != nil {
		fatal("%v", err)
	}
	for _, e := range snap.Entries {
		if !e.IsFolder && e.Name == name {
			return e
		}
	}
	fatal("no file %q in folder %d", name, folderID)
	return cloud.Entry{}
}

func cmdPages(cfg *config.Config, args []string) {
	if len(args) != 2 {
		fatal("usage: notemirror pages <folder-id> <file-name>")
	}
	folderID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fatal("invalid folder id %q", args[0])
	}

	svc := remote(cfg)
	s := localStore(cfg, svc)
	entry := resolveEntry(s, folderID, args[1])

	pages, err := withRetry(func() ([]string, error) {
		return s.ListDocumentPages(context.Background(), entry)
	})
	if err != nil {
		fatal("%v", err)
	}
	for i, name := range pages {
		fmt.Printf("%3d  %s\n", i, name)
	}
}

func cmdPage(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("page", flag.ExitOnError)
	out := fs.String("o", "", "Output file (default: <stem>-<page>.png)")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		fatal("usage: notemirror page <folder-id> <file-name> <page> [-o out.png]")
	}
	folderID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		fatal("invalid folder id %q", rest[0])
	}
	page, err := strconv.Atoi(rest[2])
	if err != nil {
		fatal("invalid page number %q", rest[2])
	}

	svc := remote(cfg)
	s := localStore(cfg, svc)
	entry := resolveEntry(s, folderID, rest[1])

	data, err := withRetry(func() ([]byte, error) {
		return s.GetPageAsset(context.Background(), entry, page)
	})
	if err != nil {
		fatal("%v", err)
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("%s-%d.png", notebook.Stem(entry.Name), page)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fatal("write %s: %v", path, err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", path, len(data))
}

func cmdStatus(cfg *config.Config) {
	fmt.Printf("Storage dir:  %s\n", cfg.StorageDir)
	fmt.Printf("Metadata TTL: %s\n", cfg.MetadataTTL)

	if cfg.AccountID == "" {
		fmt.Println("No account cached yet.")
		return
	}
	root := filepath.Join(cfg.StorageDir, cfg.AccountID)
	var files, bytes int64
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})
	fmt.Printf("Account:      %s\n", cfg.AccountID)
	fmt.Printf("Cached files: %d (%d bytes)\n", files, bytes)
}
