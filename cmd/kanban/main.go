// kanban is the admin tool for the board back end: it applies the schema,
// seeds the role catalog and answers authorization questions against a
// live database.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"kanban/core/internal/app"
	"kanban/core/internal/authz"
	"kanban/core/internal/config"
	"kanban/core/internal/identity"
	"kanban/core/internal/observe"
	"kanban/core/internal/rbac"
	"kanban/core/internal/store"
)

// exitError carries a process exit status without an error message.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitError) ExitCode() int { return int(e) }

func main() {
	if err := run(os.Args[1:]); err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = map[string]command{
	"migrate":  {"apply (or with --down revert) the embedded schema migrations", runMigrate},
	"seed":     {"upsert the role and permission catalog", runSeed},
	"roles":    {"list roles at or below a priority", runRoles},
	"can":      {"check whether a subject holds a permission in a team", runCan},
	"activity": {"print a team's recent activity as seen by a subject", runActivity},
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg := config.Load()
	log, err := observe.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	flush, err := observe.Init(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		log.WithError(err).Warn("error reporting disabled")
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	env := &environment{cfg: cfg, log: log, db: db}
	defer env.close()
	return cmd.run(ctx, env, args[1:])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: kanban <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, name := range []string{"migrate", "seed", "roles", "can", "activity"} {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Configuration is read from the environment and an optional .env file.")
}

type environment struct {
	cfg     config.Config
	log     *logrus.Logger
	db      *sql.DB
	closers []func() error
}

func (e *environment) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

func (e *environment) store() *store.PostgresStore {
	return store.NewPostgresStore(e.db)
}

// identities builds the subject resolver, cached in Redis when REDIS_URL
// is set.
func (e *environment) identities(st store.Store) (*identity.Resolver, error) {
	if e.cfg.RedisURL == "" {
		return identity.NewResolver(st, nil, e.cfg.IdentityCacheTTL, e.log), nil
	}
	client, err := identity.NewRedisClient(e.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, client.Close)
	return identity.NewResolver(st, client, e.cfg.IdentityCacheTTL, e.log), nil
}

func parseFlags(flags *pflag.FlagSet, args []string) error {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitError(0)
		}
		return err
	}
	if rest := flags.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return nil
}

func runMigrate(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	down := flags.Bool("down", false, "revert every applied migration")
	if err := parseFlags(flags, args); err != nil {
		return err
	}

	if *down {
		if err := store.RevertMigrations(ctx, env.db, store.Migrations()); err != nil {
			return err
		}
		env.log.Info("migrations reverted")
		return nil
	}
	if err := store.ApplyMigrations(ctx, env.db, store.Migrations()); err != nil {
		return err
	}
	env.log.Info("migrations applied")
	return nil
}

func runSeed(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	file := flags.String("file", "", "seed document to load instead of the built-in catalog")
	if err := parseFlags(flags, args); err != nil {
		return err
	}

	catalog := rbac.DefaultCatalog()
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		if catalog, err = rbac.Parse(data); err != nil {
			return err
		}
	}
	if err := store.SeedCatalog(ctx, env.db, catalog); err != nil {
		return err
	}
	env.log.WithFields(logrus.Fields{
		"roles":       len(catalog.Roles()),
		"permissions": len(catalog.Permissions()),
	}).Info("catalog seeded")
	return nil
}

func runRoles(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("roles", pflag.ContinueOnError)
	below := flags.Int("below", 1, "include roles with this priority or a less senior one")
	if err := parseFlags(flags, args); err != nil {
		return err
	}

	roles, err := env.store().RolesAtOrBelowPriority(ctx, *below)
	if err != nil {
		return err
	}
	for _, role := range roles {
		fmt.Printf("%d\t%s\t%s\n", role.Priority, role.NameID, role.DisplayName)
	}
	return nil
}

// runCan exits 0 when the subject holds the permission in the team and 1
// otherwise.
func runCan(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("can", pflag.ContinueOnError)
	subject := flags.String("subject", "", "identity provider subject")
	teamID := flags.String("team", "", "team id")
	permission := flags.String("permission", "", "permission name, e.g. move_list")
	if err := parseFlags(flags, args); err != nil {
		return err
	}
	if *subject == "" || *teamID == "" || *permission == "" {
		return errors.New("--subject, --team and --permission are required")
	}

	st := env.store()
	identities, err := env.identities(st)
	if err != nil {
		return err
	}
	userID, err := identities.UserID(ctx, *subject)
	if errors.Is(err, identity.ErrUnknownSubject) {
		fmt.Println("no: unknown subject")
		return exitError(1)
	}
	if err != nil {
		return err
	}

	err = st.InTx(ctx, func(tx store.Tx) error {
		_, err := authz.New(tx).Authorize(ctx, userID, authz.Team(*teamID), rbac.Permission(*permission))
		return err
	})
	switch {
	case err == nil:
		fmt.Println("yes")
		return nil
	case errors.Is(err, authz.ErrNotAMember), errors.Is(err, authz.ErrDenied):
		fmt.Printf("no: %v\n", err)
		return exitError(1)
	default:
		return err
	}
}

func runActivity(ctx context.Context, env *environment, args []string) error {
	flags := pflag.NewFlagSet("activity", pflag.ContinueOnError)
	subject := flags.String("subject", "", "identity provider subject of the reader")
	teamID := flags.String("team", "", "team id")
	limit := flags.Int("limit", 20, "number of entries")
	if err := parseFlags(flags, args); err != nil {
		return err
	}
	if *subject == "" || *teamID == "" {
		return errors.New("--subject and --team are required")
	}

	st := env.store()
	identities, err := env.identities(st)
	if err != nil {
		return err
	}
	userID, err := identities.UserID(ctx, *subject)
	if err != nil {
		return err
	}

	svc := app.New(env.cfg, st, env.log)
	logs, err := svc.ListActivity(ctx, userID, *teamID, *limit)
	if err != nil {
		res := app.Envelope(nil, err)
		return fmt.Errorf("%s: %s", res.StatusKind, res.Message)
	}
	for _, entry := range logs {
		fmt.Printf("%s\t%s\t%s\n", entry.CreatedAt.Format("2006-01-02 15:04:05"), entry.Permission, entry.Description)
	}
	return nil
}
