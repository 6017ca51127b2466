// Command connections inspects and edits stored provider connections.
//
//	connections providers
//	connections list -user <id> [-provider <id>]
//	connections remove -user <id> -provider <id> [-provider-user <id>]
//	connections lookup -provider <id> <providerUserID>...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/sakif/social-connect/internal/config"
	"github.com/sakif/social-connect/internal/connect"
	"github.com/sakif/social-connect/internal/crypto"
	"github.com/sakif/social-connect/internal/database"
	"github.com/sakif/social-connect/internal/model"
	"github.com/sakif/social-connect/internal/provider"
)

const usage = `usage:
  connections providers
  connections list -user <id> [-provider <id>]
  connections remove -user <id> -provider <id> [-provider-user <id>]
  connections lookup -provider <id> <providerUserID>...`

var errUsage = errors.New(usage)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs.
type app struct {
	registry *connect.Registry
	users    *connect.UsersConnectionRepository
	stdout   io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg, stderr)

	encryptor, err := newEncryptor(cfg, logger)
	if err != nil {
		return err
	}

	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return fmt.Errorf("loading providers: %w", err)
	}
	registry, err := provider.NewRegistry(providers)
	if err != nil {
		return err
	}

	store, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	a := &app{
		registry: registry,
		users:    connect.NewUsersConnectionRepository(store, registry, encryptor, logger),
		stdout:   stdout,
	}

	switch args[0] {
	case "providers":
		return a.providers()
	case "list":
		return a.list(ctx, args[1:])
	case "remove":
		return a.remove(ctx, args[1:])
	case "lookup":
		return a.lookup(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
}

// newEncryptor derives the token encryptor from configuration. Without a
// password tokens are stored as plaintext, which Load only permits outside
// production.
func newEncryptor(cfg *config.Config, logger *slog.Logger) (*crypto.Encryptor, error) {
	if cfg.Encryption.Password == "" {
		logger.Warn("ENCRYPTION_PASSWORD not set; provider tokens are stored unencrypted")
		return crypto.NoOp(), nil
	}
	return crypto.NewPasswordEncryptor(cfg.Encryption.Password, cfg.Encryption.Salt)
}

func (a *app) providers() error {
	for _, id := range a.registry.ProviderIDs() {
		fmt.Fprintln(a.stdout, id)
	}
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	userID := fs.String("user", "", "local user id")
	providerID := fs.String("provider", "", "only this provider")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repo, err := a.users.CreateConnectionRepository(*userID)
	if err != nil {
		return err
	}

	var byProvider map[string][]connect.Connection
	if *providerID != "" {
		conns, err := repo.FindConnections(ctx, *providerID)
		if err != nil {
			return err
		}
		byProvider = map[string][]connect.Connection{*providerID: conns}
	} else {
		byProvider, err = repo.FindAllConnections(ctx)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tPROVIDER USER\tDISPLAY NAME\tEXPIRED")
	for _, id := range slices.Sorted(maps.Keys(byProvider)) {
		for _, conn := range byProvider[id] {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", id, conn.Key().ProviderUserID, conn.DisplayName(), conn.HasExpired())
		}
	}
	return w.Flush()
}

func (a *app) remove(ctx context.Context, args []string) error {
	fs := newFlagSet("remove")
	userID := fs.String("user", "", "local user id")
	providerID := fs.String("provider", "", "provider id")
	providerUserID := fs.String("provider-user", "", "remove only this account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *providerID == "" {
		return fmt.Errorf("-provider is required\n%w", errUsage)
	}

	repo, err := a.users.CreateConnectionRepository(*userID)
	if err != nil {
		return err
	}

	if *providerUserID == "" {
		if err := repo.RemoveConnections(ctx, *providerID); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "removed %s connections of %s\n", *providerID, *userID)
		return nil
	}

	key := model.ConnectionKey{ProviderID: *providerID, ProviderUserID: *providerUserID}
	if err := repo.RemoveConnection(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "removed %s of %s\n", key, *userID)
	return nil
}

func (a *app) lookup(ctx context.Context, args []string) error {
	fs := newFlagSet("lookup")
	providerID := fs.String("provider", "", "provider id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *providerID == "" || fs.NArg() == 0 {
		return fmt.Errorf("-provider and at least one provider user id are required\n%w", errUsage)
	}

	userIDs, err := a.users.FindUserIDsConnectedTo(ctx, *providerID, fs.Args())
	if err != nil {
		return err
	}
	if len(userIDs) > 0 {
		fmt.Fprintln(a.stdout, strings.Join(userIDs, "\n"))
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}
