package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stratabuild/strata/internal/address"
	"github.com/stratabuild/strata/internal/backend"
	strataerrors "github.com/stratabuild/strata/internal/errors"
	"github.com/stratabuild/strata/internal/events"
	"github.com/stratabuild/strata/internal/graph"
	"github.com/stratabuild/strata/internal/intrinsics"
	"github.com/stratabuild/strata/internal/logging"
	"github.com/stratabuild/strata/internal/options"
	"github.com/stratabuild/strata/internal/rules"
	"github.com/stratabuild/strata/internal/sandbox"
	"github.com/stratabuild/strata/internal/session"
	"github.com/stratabuild/strata/internal/store"
	"github.com/stratabuild/strata/internal/watch"
)

// coreConfig is the "core" option scope (internal/options): the settings
// the driver itself reads, as opposed to the per-goal scopes backends
// register (§4.C "A scope is addressed by name").
type coreConfig struct {
	StoreDir       string `mapstructure:"store_dir" default:".strata/store"`
	MaxParallelism int64  `mapstructure:"max_parallelism" default:"4"`
	KeepGoing      bool   `mapstructure:"keep_going" default:"false"`
	WorkunitLog    string `mapstructure:"workunit_log" default:""`
	LeaseTTL       string `mapstructure:"lease_ttl" default:"30s"`
	ReapInterval   string `mapstructure:"reap_interval" default:"1m"`
	EventsDriver   string `mapstructure:"events_driver" default:"go-channel"`
	EventsSQLConn  string `mapstructure:"events_sql_conn" default:""`
	NATSURL        string `mapstructure:"nats_url" default:""`
	NATSStream     string `mapstructure:"nats_stream" default:""`
	NATSSubject    string `mapstructure:"nats_subject" default:""`
}

// coreConfigSchema is the JSON Schema the "core" section of a config file
// is validated against before it is merged into the scope (§4.C domain
// stack: "JSON-Schema validation of config files before they are merged
// into a scope"), mirroring coreConfig's own fields and types.
const coreConfigSchema = `{
  "type": "object",
  "properties": {
    "store_dir":        {"type": "string"},
    "max_parallelism":  {"type": "integer", "minimum": 1},
    "keep_going":       {"type": "boolean"},
    "workunit_log":     {"type": "string"},
    "lease_ttl":        {"type": "string"},
    "reap_interval":    {"type": "string"},
    "events_driver":    {"type": "string", "enum": ["go-channel", "sql"]},
    "events_sql_conn":  {"type": "string"},
    "nats_url":         {"type": "string"},
    "nats_stream":      {"type": "string"},
    "nats_subject":     {"type": "string"}
  },
  "additionalProperties": false
}`

// runtime bundles everything a subcommand needs to drive one invocation: the
// resolved option registry, the wired rule/backend set, and (lazily, via
// newSession) the session that ties a request batch to the content store
// and graph engine.
type runtime struct {
	optReg  *options.Registry
	ruleReg *rules.Registry
	core    coreConfig
	log     logging.Config

	store *store.Store
	eng   *graph.Engine
}

// noBackendLister answers address resolution for specs that don't name a
// backend's declared target, since this binary ships no backend by default
// (see cmd/strata/main.go). A deployment that links a backend should supply
// its own address.Lister from that backend's target declarations instead of
// this one.
type noBackendLister struct{}

func (noBackendLister) TargetsIn(dir string) ([]address.Address, error) {
	return nil, strataerrors.Newf(strataerrors.KindUser,
		"address: no backend is linked to enumerate targets under %q (spec %q: needs a sibling/transitive/file lister)", dir, dir+":")
}

func (noBackendLister) TargetsUnder(dir string) ([]address.Address, error) {
	return nil, strataerrors.Newf(strataerrors.KindUser,
		"address: no backend is linked to enumerate targets under %q", dir)
}

func (noBackendLister) OwnersOf(file string) ([]address.Address, error) {
	return nil, strataerrors.Newf(strataerrors.KindUser,
		"address: no backend is linked to resolve file address %q", file)
}

// defaultProcessCache builds the executor's default process-result cache: an
// in-memory layer in front of a disk layer rooted at core.StoreDir/process,
// so a repeated invocation of the same binary (§6 "the persisted
// process/<fingerprint> disk layer") and a second session sharing the same
// store directory (§8 "executed across two sessions with a shared local
// cache also runs exactly once") both hit a warm cache instead of
// re-spawning the sandboxed process. PostgresCache and S3Cache are opt-in,
// deployment-specific extra layers a backend can append once it has
// somewhere to point them; the disk layer is the one every invocation of
// this binary gets for free.
func defaultProcessCache(core coreConfig) (sandbox.Cache, error) {
	dir := filepath.Join(core.StoreDir, "process")
	disk, err := sandbox.NewDiskCache(dir)
	if err != nil {
		return nil, err
	}
	return sandbox.NewLayeredCache(sandbox.NewMemoryCache(), disk), nil
}

// newRuntime parses global flags, resolves the core scope, wires every
// linked backend's rules and scopes, solves the rule graph, and builds the
// engine's static dispatch table (§4.D "solves the declared get-edges into a
// single static dispatch table before any request is served").
func newRuntime(flags *pflag.FlagSet) (*runtime, error) {
	optReg := options.NewRegistry(flags)
	optReg.Register("core", (*coreConfig)(nil))
	optReg.Register("logging", (*logging.Config)(nil))
	optReg.RegisterSchema("core", []byte(coreConfigSchema))

	if cfgFile, _ := flags.GetString("config"); cfgFile != "" {
		if err := optReg.AddConfigFile(cfgFile); err != nil {
			return nil, err
		}
	}

	var core coreConfig
	if err := optReg.Resolve("core", &core); err != nil {
		return nil, err
	}
	var logCfg logging.Config
	if err := optReg.Resolve("logging", &logCfg); err != nil {
		return nil, err
	}
	applyGlobalFlags(flags, &core, &logCfg)
	logging.Setup(logCfg)

	ruleReg := rules.NewRegistry()
	if err := backend.WireAll(ruleReg, optReg); err != nil {
		return nil, err
	}

	st, err := store.New(core.StoreDir)
	if err != nil {
		return nil, err
	}

	snapshotter := watch.NewSnapshotter(".", st, nil)
	envPolicy, err := sandbox.NewEnvPolicy(context.Background(), "")
	if err != nil {
		return nil, err
	}
	local := sandbox.NewLocalStrategy(int(core.MaxParallelism), envPolicy)

	var remote *sandbox.RemoteStrategy
	if core.NATSURL != "" {
		remote, err = sandbox.NewRemoteStrategy(context.Background(), core.NATSURL, core.NATSStream, core.NATSSubject)
		if err != nil {
			return nil, err
		}
	}
	procCache, err := defaultProcessCache(core)
	if err != nil {
		return nil, err
	}
	executor := sandbox.NewExecutor(st, procCache, local, remote, os.TempDir())
	downloader := intrinsics.NewDownloader(nil, st, "X-Strata-Version")

	if err := intrinsics.RegisterAll(ruleReg, intrinsics.Deps{
		Store:       st,
		Snapshotter: snapshotter,
		Executor:    executor,
		Downloader:  downloader,
	}); err != nil {
		return nil, err
	}

	if err := ruleReg.Solve(); err != nil {
		return nil, err
	}
	dispatch, err := ruleReg.Dispatch()
	if err != nil {
		return nil, err
	}

	return &runtime{
		optReg:  optReg,
		ruleReg: ruleReg,
		core:    core,
		log:     logCfg,
		store:   st,
		eng:     graph.New(dispatch),
	}, nil
}

// newSession builds the session for one CLI invocation, wiring cmd's
// lifetime to the session's cancellation (§4.I).
func (rt *runtime) newSession(cmd *cobra.Command) (*session.Session, error) {
	leaseTTL, err := parseDurationOr(rt.core.LeaseTTL, 30*time.Second)
	if err != nil {
		return nil, err
	}
	reapInterval, err := parseDurationOr(rt.core.ReapInterval, time.Minute)
	if err != nil {
		return nil, err
	}

	ev, err := events.NewEventer(cmd.Context(), &events.Config{
		Driver:             rt.core.EventsDriver,
		RouterCloseTimeout: 10,
		GoChannel:          events.GoChannelConfig{BufferSize: 256},
		SQL:                events.SQLConfig{ConnectionString: rt.core.EventsSQLConn},
	})
	if err != nil {
		return nil, err
	}

	cfg := session.DefaultConfig()
	cfg.MaxParallelism = rt.core.MaxParallelism
	cfg.KeepGoing = rt.core.KeepGoing
	cfg.LeaseTTL = leaseTTL
	cfg.ReapInterval = reapInterval
	cfg.WorkunitLog = rt.core.WorkunitLog

	out := os.Stdout
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		out = f
	}
	reporter := session.NewConsoleReporter(out)
	go func() { _ = ev.Run(cmd.Context()) }()
	<-ev.Running()

	sess, err := session.New(cmd.Context(), rt.store, rt.eng, ev, reporter, cfg)
	if err != nil {
		return nil, err
	}
	stop := sess.InstallSignalHandler()
	go func() {
		<-sess.Context().Done()
		stop()
	}()
	return sess, nil
}

// resolveAddresses parses and resolves every positional target spec against
// whatever Lister a linked backend provides, or noBackendLister when none
// do (§6 "Target specs").
func resolveAddresses(args []string) ([]address.Address, error) {
	specs := make([]address.Spec, 0, len(args))
	for _, raw := range args {
		sp, err := address.Parse(raw)
		if err != nil {
			return nil, err
		}
		specs = append(specs, sp)
	}
	return address.Resolve(noBackendLister{}, specs)
}

// applyGlobalFlags overrides core/logCfg with any persistent flag the user
// actually set. Root.go's global flags use friendly hyphenated names
// (--store-dir, --log-level, …), which don't line up with the dotted
// scope.option keys internal/options binds CLI flags by, so global options
// are threaded through explicitly here rather than via the generic
// viper/pflag binding every backend-declared scope uses.
func applyGlobalFlags(flags *pflag.FlagSet, core *coreConfig, logCfg *logging.Config) {
	if v, err := flags.GetString("store-dir"); err == nil && flags.Changed("store-dir") {
		core.StoreDir = v
	}
	if v, err := flags.GetInt64("max-parallelism"); err == nil && flags.Changed("max-parallelism") {
		core.MaxParallelism = v
	}
	if flags.Changed("keep-going") {
		if v, err := flags.GetBool("keep-going"); err == nil {
			core.KeepGoing = v
		}
	}
	if v, err := flags.GetString("workunit-log"); err == nil && flags.Changed("workunit-log") {
		core.WorkunitLog = v
	}
	if v, err := flags.GetString("log-level"); err == nil && flags.Changed("log-level") {
		logCfg.Level = v
	}
	if v, err := flags.GetString("log-format"); err == nil && flags.Changed("log-format") {
		logCfg.Format = v
	}
}

// goalKey builds the node key for running goal against addr: one product
// request per (goal, target) pair, tagged by directory and name so two
// targets never collide (§4.F root-product requests per matched target).
func goalKey(g backend.Goal, addr address.Address) graph.Key {
	return graph.NewKey(g.RootProduct,
		graph.StringParam{Tag: "dir", Value: addr.Dir},
		graph.StringParam{Tag: "name", Value: addr.Name})
}

func parseDurationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, strataerrors.Newf(strataerrors.KindUser, "options: invalid duration %q: %v", s, err)
	}
	return d, nil
}
