package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/copp1723/team-crm-sub000/config"
	"github.com/copp1723/team-crm-sub000/internal/migration"
)

// =============================================================================
// 🗃️ 归档数据库迁移命令
// =============================================================================
// 只覆盖 postgres/mysql 归档后端;sqlite 建表由归档层的
// AutoMigrate 自动完成,不需要迁移器。

// runMigrate 分发 migrate 子命令
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runMigrateUp(subargs)
	case "down":
		runMigrateDown(subargs)
	case "status":
		runMigrateStatus(subargs)
	case "version":
		runMigrateVersion(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Archive Database Migration Commands

Usage:
  teamcrm migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all rolls back everything)
  status    Show migration status
  version   Show current migration version
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql (default: from config)
  --db-url <url>      Database connection URL (default: from config)

The sqlite archive backend migrates itself on open and does not use
these commands.

Examples:
  teamcrm migrate up
  teamcrm migrate up --config /etc/teamcrm/config.yaml
  teamcrm migrate down
  teamcrm migrate down --all
  teamcrm migrate status`)
}

// migrateFlags 迁移子命令共享的标志集
type migrateFlags struct {
	configPath *string
	dbType     *string
	dbURL      *string
	all        *bool
}

func newMigrateFlags(fs *flag.FlagSet) *migrateFlags {
	return &migrateFlags{
		configPath: fs.String("config", "", "Path to config file"),
		dbType:     fs.String("db-type", "", "Database type (postgres, mysql)"),
		dbURL:      fs.String("db-url", "", "Database connection URL"),
		all:        fs.Bool("all", false, "Apply to all migrations where supported"),
	}
}

// createMigrator 按标志或配置文件构建迁移器
func (f *migrateFlags) createMigrator() (*migration.DefaultMigrator, error) {
	if *f.dbType != "" && *f.dbURL != "" {
		return migration.NewMigratorFromURL(*f.dbType, *f.dbURL)
	}

	loader := config.NewLoader()
	if *f.configPath != "" {
		loader = loader.WithConfigPath(*f.configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if *f.dbType != "" {
		cfg.Archive.Driver = *f.dbType
	}
	return migration.NewMigratorFromArchiveConfig(cfg.Archive)
}

func runMigrateUp(args []string) {
	fs := flag.NewFlagSet("migrate up", flag.ExitOnError)
	flags := newMigrateFlags(fs)
	fs.Parse(args)

	migrator, err := flags.createMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).RunUp(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	flags := newMigrateFlags(fs)
	fs.Parse(args)

	migrator, err := flags.createMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	ctx := context.Background()
	if *flags.all {
		if err := migrator.DownAll(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Migration rollback failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("All migrations rolled back.")
		return
	}

	if err := migration.NewCLI(migrator).RunDown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Migration rollback failed: %v\n", err)
		os.Exit(1)
	}
}

func runMigrateStatus(args []string) {
	fs := flag.NewFlagSet("migrate status", flag.ExitOnError)
	flags := newMigrateFlags(fs)
	fs.Parse(args)

	migrator, err := flags.createMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).RunStatus(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(1)
	}
}

func runMigrateVersion(args []string) {
	fs := flag.NewFlagSet("migrate version", flag.ExitOnError)
	flags := newMigrateFlags(fs)
	fs.Parse(args)

	migrator, err := flags.createMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	version, dirty, err := migrator.Version(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get version: %v\n", err)
		os.Exit(1)
	}
	if dirty {
		fmt.Printf("Current version: %d (dirty)\n", version)
		return
	}
	fmt.Printf("Current version: %d\n", version)
}
