package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"authix.org/internal/auth"
	"authix.org/internal/config"
	"authix.org/internal/migrate"
	"authix.org/internal/obs"
	"authix.org/internal/store/pg"
	"authix.org/migrations"
)

const usage = "usage: migrate [flags] up|down|seed|status|bootstrap-admin"

func main() {
	var (
		dsn        = flag.String("dsn", "", "PostgreSQL DSN (defaults to the configured database URL)")
		configPath = flag.String("config", os.Getenv("AUTHIX_CONFIG"), "Path to YAML config (optional)")
		username   = flag.String("username", "admin", "bootstrap-admin: username")
		email      = flag.String("email", "", "bootstrap-admin: email")
		password   = flag.String("password", os.Getenv("AUTHIX_ADMIN_PASSWORD"), "bootstrap-admin: password")
		name       = flag.String("name", "System Administrator", "bootstrap-admin: display name")
		roles      = flag.String("roles", "admin,editor", "bootstrap-admin: comma separated role names")
	)
	flag.Parse()

	log := obs.Logger()
	if flag.NArg() == 0 {
		log.Fatal(usage)
	}
	if *dsn == "" {
		*dsn = databaseURL(*configPath)
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide -dsn, AUTHIX_DATABASE_URL or DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrations.FS, migrate.WithLogger(log))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	case "bootstrap-admin":
		err = bootstrapAdmin(ctx, log, store, auth.BootstrapInput{
			Name:     *name,
			Username: *username,
			Email:    *email,
			Password: *password,
			Roles:    splitRoles(*roles),
		})
	default:
		log.Fatalf("unknown command %q; %s", cmd, usage)
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", cmd)
	}
}

func bootstrapAdmin(ctx context.Context, log logrus.FieldLogger, store *pg.Store, in auth.BootstrapInput) error {
	rbac, err := auth.NewRBACService(store)
	if err != nil {
		return err
	}
	user, created, err := rbac.BootstrapAdmin(ctx, in)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
		"created":  created,
		"roles":    in.Roles,
	}).Info("bootstrap admin ready")
	return nil
}

// databaseURL reads the DSN from config without requiring the token secrets,
// which migrations do not need.
func databaseURL(configPath string) string {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg.Database.URL
	}
	for _, key := range []string{"AUTHIX_DATABASE_URL", "DATABASE_URL"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func splitRoles(v string) []string {
	var out []string
	for _, r := range strings.Split(v, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
