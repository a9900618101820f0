package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sliptacore/internal/blob"
	"sliptacore/internal/catalog"
	"sliptacore/internal/config"
	"sliptacore/internal/core"
	"sliptacore/internal/events"
	"sliptacore/internal/evidence"
	"sliptacore/internal/logging"
	"sliptacore/pkg/domain"
)

const (
	applicationName = "sliptactl"
	dateLayout      = "2006-01-02"
)

// actorFlags describe the caller. Role resolution happens upstream; the CLI
// takes the resolved scope as flags.
type actorFlags struct {
	id         string
	labs       []string
	global     bool
	canEdit    bool
	privileged bool
}

func (f *actorFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.id, "actor", "cli", "Identifier of the acting user.")
	flags.StringSliceVar(&f.labs, "lab", nil, "Laboratory the actor is scoped to (repeatable).")
	flags.BoolVar(&f.global, "global", false, "Actor may read every laboratory.")
	flags.BoolVar(&f.canEdit, "can-edit", true, "Actor may modify audits in scope.")
	flags.BoolVar(&f.privileged, "privileged", false, "Actor may reopen completed audits and closed action plans.")
}

func (f actorFlags) actor() domain.Actor {
	scope := domain.NewScope(f.canEdit, f.labs...)
	scope.Global = f.global
	scope.Privileged = f.privileged
	return domain.Actor{ID: f.id, Scope: scope}
}

type application struct {
	root       *cobra.Command
	out        io.Writer
	loader     *config.Loader
	configPath string
	logLevel   string
	logFormat  string
	actorFlags actorFlags

	cfg     config.Config
	logger  *zap.Logger
	service *core.Service
	closers []func()
}

func newApplication(out io.Writer) *application {
	app := &application{
		out:    out,
		loader: config.NewLoader(".", "$HOME/.sliptactl"),
		logger: zap.NewNop(),
	}
	root := &cobra.Command{
		Use:           applicationName,
		Short:         "SLIPTA audit scoring, closure gating and findings tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.initialize(cmd.Context())
		},
	}
	root.SetContext(context.Background())
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "Optional path to a configuration file.")
	flags.StringVar(&app.logLevel, "log-level", "", "Override the configured log level.")
	flags.StringVar(&app.logFormat, "log-format", "", "Override the configured log format (structured or console).")
	app.actorFlags.register(flags)

	root.AddCommand(
		app.auditCommand(),
		app.respondCommand(),
		app.subRespondCommand(),
		app.scoreCommand(),
		app.diagnoseCommand(),
		app.closureCommand(),
		app.reconcileCommand(),
		app.compareCommand(),
		app.findingCommand(),
		app.planCommand(),
		app.evidenceCommand(),
		app.catalogCommand(),
	)
	app.root = root
	return app
}

// Execute runs the command tree and releases every opened resource.
func (a *application) Execute() error {
	return a.ExecuteArgs(nil)
}

// ExecuteArgs runs the command tree with explicit arguments; nil uses os.Args.
func (a *application) ExecuteArgs(args []string) error {
	if args != nil {
		a.root.SetArgs(args)
	}
	err := a.root.Execute()
	a.shutdown()
	return err
}

func (a *application) initialize(ctx context.Context) error {
	loaded, err := a.loader.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}
	a.cfg = loaded.Config
	if a.logLevel != "" {
		a.cfg.Log.Level = logging.Level(strings.ToLower(a.logLevel))
	}
	if a.logFormat != "" {
		a.cfg.Log.Format = logging.Format(strings.ToLower(a.logFormat))
	}
	logger, err := logging.New(a.cfg.Log)
	if err != nil {
		return fmt.Errorf("unable to create logger: %w", err)
	}
	a.logger = logger
	a.logger.Debug("configuration initialized",
		zap.String("config_file", loaded.ConfigFileUsed),
		zap.String("storage_driver", string(a.cfg.Storage.Driver)),
		zap.String("blob_driver", string(a.cfg.Blob.Driver)),
	)

	cat, err := a.openCatalog()
	if err != nil {
		return err
	}
	store, err := core.OpenPersistentStore(ctx, a.cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { _ = closer.Close() })
	}
	blobs, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return fmt.Errorf("open evidence store: %w", err)
	}

	telemetry, err := a.cfg.Observe.Open(a.root.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("open telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := telemetry.Close(); err != nil {
			a.logger.Warn("telemetry flush failed", zap.Error(err))
		}
	})

	opts := append(a.cfg.ServiceOptions(telemetry),
		core.WithLogger(logging.NewServiceLogger(a.logger)),
		core.WithEvidence(evidence.New(blobs)),
	)
	if a.cfg.Events.Enabled() {
		publisher, closeFn, err := events.Connect(a.cfg.Events)
		if err != nil {
			// events are best effort; the command still runs
			a.logger.Warn("event publishing disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, closeFn)
			opts = append(opts, core.WithEvents(publisher))
		}
	}
	svc, err := core.NewService(store, cat, opts...)
	if err != nil {
		return err
	}
	a.service = svc
	return nil
}

func (a *application) openCatalog() (*catalog.Catalog, error) {
	if a.cfg.Catalog.Path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(a.cfg.Catalog.Path)
}

func (a *application) shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func (a *application) actor() domain.Actor {
	return a.actorFlags.actor()
}

// print writes v as indented JSON.
func (a *application) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
