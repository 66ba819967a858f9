package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/stuffbin"
	"github.com/knadh/y2w/internal/dispatch"
	"github.com/knadh/y2w/internal/notify"
	"github.com/knadh/y2w/internal/resolver"
	"github.com/knadh/y2w/internal/settings"
	"github.com/knadh/y2w/internal/w2g"
	"github.com/knadh/y2w/store"
	"github.com/knadh/y2w/store/fs"
	"github.com/knadh/y2w/store/mem"
	"github.com/knadh/y2w/store/pebble"
	"github.com/knadh/y2w/store/redis"
	"github.com/knadh/y2w/store/sqlite"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

var (
	ko = koanf.New(".")
	lo = zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Version of the build injected at build time.
	buildString = "unknown"
)

// App is the global app context that's passed around.
type App struct {
	set  *settings.Settings
	prov *w2g.Client
	sess *notify.Session

	disp *dispatch.Service
	val  *dispatch.Validator
	res  *resolver.Resolver

	// hub is only set when serving.
	hub *notify.Hub

	// Browser origins allowed to call the local API.
	origins []string

	roomDomain string
	log        zerolog.Logger
}

// loadConfig reads the config files, the environment and the command line
// flags, in that order.
func loadConfig(f *flag.FlagSet) error {
	cFiles, _ := f.GetStringSlice("config")
	for _, c := range cFiles {
		lo.Debug().Str("file", c).Msg("reading config")
		if err := ko.Load(file.Provider(c), toml.Parser()); err != nil {
			if os.IsNotExist(err) {
				lo.Warn().Str("file", c).Msg("config file not found, using defaults")
				continue
			}
			return fmt.Errorf("error reading config %s: %v", c, err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("Y2W_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "Y2W_")), "__", ".", -1)
	}), nil); err != nil {
		return fmt.Errorf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	return ko.Load(posflag.Provider(f, ".", ko), nil)
}

// initLogger configures the global logger from the app config.
func initLogger() zerolog.Logger {
	var w io.Writer = os.Stderr
	if ko.Bool("app.log_pretty") {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(ko.String("app.log_level")))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// initFS initializes the stuffbin embedded static filesystem.
func initFS() (stuffbin.FileSystem, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("error getting executable path: %v", err)
	}

	// Read stuffed data from self.
	sfs, err := stuffbin.UnStuff(exe)
	if err == nil {
		return sfs, nil
	}
	if err != stuffbin.ErrNoID {
		return nil, fmt.Errorf("error reading stuffed binary: %v", err)
	}

	// Binary is unstuffed or is running in dev mode.
	sfs, err = stuffbin.NewLocalFS("./", "./static")
	if err != nil {
		return nil, fmt.Errorf("error falling back to local filesystem: %v", err)
	}
	return sfs, nil
}

// initStore opens the settings backend named by store.type.
func initStore(k *koanf.Koanf, l zerolog.Logger) (store.Store, error) {
	typ := k.String("store.type")
	switch typ {
	case "", "fs":
		var cfg fs.Config
		if err := k.Unmarshal("store.fs", &cfg); err != nil {
			return nil, err
		}
		if cfg.Path == "" {
			cfg.Path = "y2w.json"
		}
		return fs.New(cfg, l.With().Str("component", "store").Logger())

	case "mem":
		return mem.New(mem.Config{})

	case "redis":
		var cfg redis.Config
		if err := k.Unmarshal("store.redis", &cfg); err != nil {
			return nil, err
		}
		return redis.New(cfg)

	case "pebble":
		var cfg pebble.Config
		if err := k.Unmarshal("store.pebble", &cfg); err != nil {
			return nil, err
		}
		return pebble.New(cfg)

	case "sqlite":
		var cfg sqlite.Config
		if err := k.Unmarshal("store.sqlite", &cfg); err != nil {
			return nil, err
		}
		return sqlite.New(cfg)
	}
	return nil, fmt.Errorf("unknown store type '%s'", typ)
}

// newApp wires the services on top of an opened store. Notices go to n.
func newApp(k *koanf.Koanf, st store.Store, n notify.Notifier, l zerolog.Logger) (*App, error) {
	var pCfg w2g.Config
	if err := k.Unmarshal("provider", &pCfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling 'provider' config: %v", err)
	}
	if pCfg.APIURL == "" {
		pCfg.APIURL = "https://api.w2g.tv"
	}
	if pCfg.RoomDomain == "" {
		pCfg.RoomDomain = "w2g.tv"
	}
	if pCfg.Timeout <= 0 {
		pCfg.Timeout = time.Second * 15
	}

	var vCfg dispatch.ValidatorConfig
	if err := k.Unmarshal("provider", &vCfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling 'provider' config: %v", err)
	}
	if vCfg.ProbeVideo == "" {
		vCfg.ProbeVideo = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	}

	origins := k.Strings("app.allowed_origins")
	if len(origins) == 0 {
		origins = []string{"chrome-extension://*", "moz-extension://*"}
	}

	app := &App{
		origins:    origins,
		set:        settings.New(st),
		prov:       w2g.New(pCfg, nil),
		sess:       notify.NewSession(),
		roomDomain: pCfg.RoomDomain,
		log:        l,
	}
	app.disp = dispatch.New(app.prov, app.set, n, app.sess, l.With().Str("component", "dispatch").Logger())
	app.val = dispatch.NewValidator(vCfg, app.prov, app.set, l.With().Str("component", "validator").Logger())
	app.res = resolver.New(pCfg.RoomDomain, app.set, n, app.sess, l.With().Str("component", "resolver").Logger())
	return app, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
