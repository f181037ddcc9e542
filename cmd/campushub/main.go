package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hokaccha/go-prettyjson"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gopkg.in/yaml.v3"

	"github.com/campushub/campushub/conf"
	"github.com/campushub/campushub/internal/build"
	"github.com/campushub/campushub/internal/db"
	"github.com/campushub/campushub/internal/log"
	"github.com/campushub/campushub/internal/rls"
	"github.com/campushub/campushub/internal/scope"
	"github.com/campushub/campushub/internal/system"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			handleConfigCommand()
			return
		case "migrate":
			runMigrate()
			return
		case "version", "--version", "-v":
			showVersion()
			return
		case "help", "--help", "-h":
			showHelp()
			return
		case "build-info":
			showBuildInfo()
			return
		}
	}

	startApp()
}

func showBuildInfo() {
	fmt.Println(build.GetBuildInfo())
}

type logger struct{}

func (l *logger) LogEvent(event fxevent.Event) {
	log.Debug(context.Background(), "fx event", log.Any("event", event))
}

func newPool(lc fx.Lifecycle, cfg conf.Config) (*pgxpool.Pool, error) {
	log.Setup(cfg.Log)

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", problems)
	}

	pool, err := db.NewPool(context.Background(), cfg.DB)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newScope(pool *pgxpool.Pool, cfg conf.Config) *scope.Scope {
	return scope.New(pool, cfg.Scope, scope.NewPGAuditStore())
}

func startApp() {
	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &logger{}
		}),
		fx.Provide(conf.Load),
		fx.Provide(newPool),
		fx.Provide(newScope),
		fx.Provide(system.NewService),
		fx.Invoke(func(svc *system.Service) {
			log.Info(context.Background(), "campushub tenant core ready")
		}),
	)

	app.Run()
}

func runMigrate() {
	config, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log.Setup(config.Log)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, config.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := rls.Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Row-level-security contract applied.")
}

func handleConfigCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: campushub config <preview|validate|get>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "preview":
		configPreview()
	case "validate":
		configValidate()
	case "get":
		configGet()
	default:
		fmt.Println("Usage: campushub config <preview|validate|get>")
		os.Exit(1)
	}
}

func configPreview() {
	format := "yml"

	for i := 3; i < len(os.Args); i++ {
		if os.Args[i] == "--format" || os.Args[i] == "-f" {
			if i+1 < len(os.Args) {
				format = os.Args[i+1]
			}
		}
	}

	config, err := conf.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var output string

	switch format {
	case "json":
		b, err := prettyjson.Marshal(config)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output = string(b)
	case "yml", "yaml":
		b, err := yaml.Marshal(config)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output = string(b)
	default:
		fmt.Printf("Unsupported format: %s\n", format)
		os.Exit(1)
	}

	fmt.Println(output)
}

func configValidate() {
	config, err := conf.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	problems := config.Validate()

	if len(problems) == 0 {
		fmt.Println("Configuration is valid!")
		return
	}

	fmt.Println("Configuration validation failed:")

	for _, problem := range problems {
		fmt.Printf("  - %s\n", problem)
	}

	os.Exit(1)
}

func configGet() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: campushub config get <key>")
		fmt.Println("")
		fmt.Println("Available keys:")
		fmt.Println("  db.dsn                  Database DSN")
		fmt.Println("  db.pooler_mode          Connection pooler mode")
		fmt.Println("  scope.acquire_timeout   Pool acquire timeout")
		fmt.Println("  scope.system_role       Privileged database role")
		fmt.Println("  log.level               Log level")
		os.Exit(1)
	}

	key := os.Args[3]

	config, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var value interface{}

	switch key {
	case "db.dsn":
		value = config.DB.DSN
	case "db.pooler_mode":
		value = config.DB.PoolerMode
	case "db.max_conns":
		value = config.DB.MaxConns
	case "scope.acquire_timeout":
		value = config.Scope.AcquireTimeout
	case "scope.system_role":
		value = config.Scope.SystemRole
	case "log.level":
		value = config.Log.Level
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}

	fmt.Println(value)
}

func showHelp() {
	fmt.Println("CampusHub Tenant Isolation Core")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  campushub                  Start the application host (default)")
	fmt.Println("  campushub migrate          Apply the row-level-security contract")
	fmt.Println("  campushub config preview   Preview configuration")
	fmt.Println("  campushub config validate  Validate configuration")
	fmt.Println("  campushub config get <key> Get a specific config value")
	fmt.Println("  campushub version          Show version")
	fmt.Println("  campushub help             Show this help message")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -f, --format FORMAT       Output format for config preview (yml, json)")
}

func showVersion() {
	fmt.Println(build.Version)
}
