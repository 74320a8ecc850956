package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"livehub/internal/bus"
	"livehub/internal/common/fsutil"
	"livehub/internal/config"
	"livehub/internal/httpapi"
	"livehub/internal/hub"
	"livehub/internal/snippet"
	"livehub/internal/store"
	"livehub/internal/transport"
)

func newServeCmd(opts *Options) *cobra.Command {
	var (
		configPath string
		flagCfg    config.Config
		modules    string
		origins    string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the hub, event bus and HTTP API",
		Example: "  livehub serve --modules-dir ./modules\n  livehub serve --config livehub.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.Config
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Explicit flags override file values
			f := cmd.Flags()
			if f.Changed("addr") || cfg.Addr == "" {
				cfg.Addr = flagCfg.Addr
			}
			if f.Changed("modules-dir") || (cfg.ModulesDir == "" && flagCfg.ModulesDir != "") {
				cfg.ModulesDir = flagCfg.ModulesDir
			}
			if f.Changed("store") {
				cfg.Store = flagCfg.Store
			}
			if f.Changed("sqlite-path") {
				cfg.SQLitePath = flagCfg.SQLitePath
			}
			if f.Changed("target") {
				cfg.Target = flagCfg.Target
			}
			if f.Changed("preserve-whitespace") {
				cfg.PreserveWhitespace = flagCfg.PreserveWhitespace
			}
			if f.Changed("ambient-modules") {
				cfg.AmbientModules = splitCSV(modules)
			}
			if f.Changed("allowed-origins") {
				cfg.AllowedOrigins = splitCSV(origins)
			}
			if f.Changed("module-ttl") {
				cfg.ModuleTTL = flagCfg.ModuleTTL
			}
			if f.Changed("log-level") || cfg.LogLevel == "" {
				cfg.LogLevel = opts.LogLevel
			}
			if f.Changed("log-format") || cfg.LogFormat == "" {
				cfg.LogFormat = opts.LogFormat
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fnServe(ctx, cfg, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", envStr("LIVEHUB_CONFIG", ""), "Config file (.yaml, .json or .toml)")
	f.StringVar(&flagCfg.Addr, "addr", envStr("LIVEHUB_ADDR", config.DefaultAddr), "HTTP listen address, e.g. :8080")
	f.StringVar(&flagCfg.ModulesDir, "modules-dir", envStr("LIVEHUB_MODULES_DIR", ""), "Directory of <name>.ts module sources")
	f.StringVar(&flagCfg.Store, "store", "", "Backing store: memory|dir|sqlite")
	f.StringVar(&flagCfg.SQLitePath, "sqlite-path", "", "SQLite database path for --store sqlite")
	f.StringVar(&flagCfg.Target, "target", "", "ECMAScript target of compiled output (default es2017)")
	f.BoolVar(&flagCfg.PreserveWhitespace, "preserve-whitespace", false, "Emit readable instead of minified output")
	f.StringVar(&modules, "ambient-modules", "", "Comma separated module specifiers the clients provide as globals")
	f.StringVar(&origins, "allowed-origins", "", "Comma separated origins allowed to open sockets (empty allows all)")
	f.Var(durationFlag{&flagCfg.ModuleTTL}, "module-ttl", "Expire modules not pushed within this window (0 keeps them)")
	return cmd
}

type durationFlag struct{ d *config.Duration }

func (f durationFlag) String() string {
	if f.d == nil {
		return "0s"
	}
	return f.d.Std().String()
}
func (f durationFlag) Set(s string) error { return f.d.UnmarshalText([]byte(s)) }
func (f durationFlag) Type() string       { return "duration" }

// Overridable in tests.
var fnServe = serve

func openStore(cfg config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreDir:
		return store.NewDirStore(cfg.ModulesDir)
	case config.StoreSQLite:
		path, err := fsutil.ExpandHome(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return store.OpenSQLite(path, 0, &log)
	}
	return store.NewMemoryStore(), nil
}

func newCompiler(cfg config.Config, log zerolog.Logger) (*snippet.Compiler, error) {
	var rules []snippet.LeniencyRule
	if len(cfg.LenientPatterns) > 0 {
		rules = snippet.DefaultLeniency()
		for i, p := range cfg.LenientPatterns {
			r, err := snippet.PatternRule(fmt.Sprintf("config-%d", i), p)
			if err != nil {
				return nil, err
			}
			rules = append(rules, r)
		}
	}
	return snippet.New(snippet.Config{
		AmbientModules:     cfg.AmbientModules,
		Leniency:           rules,
		Target:             cfg.Target,
		PreserveWhitespace: cfg.PreserveWhitespace,
		Logger:             &log,
	})
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	st, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	compiler, err := newCompiler(cfg, log)
	if err != nil {
		return err
	}
	h, err := hub.New(hub.Config{
		Compiler:             compiler,
		Store:                st,
		Logger:               &log,
		BootstrapParallelism: cfg.BootstrapParallelism,
		ModuleTTL:            cfg.ModuleTTL.Std(),
	})
	if err != nil {
		return err
	}
	defer h.Close()
	b := bus.New(bus.Config{Logger: &log})
	defer b.Close()

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeout(cfg.RequestTimeout.Std())
	httpapi.SetSocketOrigins(cfg.AllowedOrigins)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, []string{"Content-Type", "X-Log-Level"})

	mux := httpapi.NewMux(httpapi.Services{
		Hub:      h,
		Bus:      b,
		Compiler: compiler,
		Peer: transport.PeerOptions{
			MaxPending:   cfg.SendQueue,
			WriteTimeout: cfg.WriteTimeout.Std(),
		},
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	if cfg.ModuleTTL > 0 {
		go sweep(ctx, h, cfg.SweepInterval.Std(), log)
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOn(ctx, h, hup, log)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("livehub listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Sockets are hijacked; Shutdown does not wait for them. Closing the hub
	// and bus ends them.
	_ = h.Close()
	_ = b.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

func sweep(ctx context.Context, h *hub.Hub, every time.Duration, log zerolog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := h.Sweep(ctx); err != nil && !hub.IsClosed(err) {
				log.Warn().Err(err).Msg("module expiry failed")
			}
		}
	}
}

// reloadOn re-reads the backing store each time sig fires, for edits made
// to the store behind the server's back.
func reloadOn(ctx context.Context, h *hub.Hub, sig <-chan os.Signal, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			res, err := h.Reload(ctx)
			if err != nil {
				if !hub.IsClosed(err) {
					log.Warn().Err(err).Msg("reload failed")
				}
				continue
			}
			if len(res.Broken) > 0 {
				log.Warn().Strs("modules", res.Broken).Msg("reload kept previous versions of sources that do not compile")
			}
		}
	}
}
