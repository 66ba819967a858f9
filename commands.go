package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/knadh/y2w/internal/dispatch"
	"github.com/knadh/y2w/internal/notify"
	"github.com/knadh/y2w/internal/video"
	"github.com/spf13/cobra"
)

const sampleConfig = "/static/config.sample.toml"

// printNotifier writes notices to a terminal for the one-shot commands.
type printNotifier struct {
	w io.Writer
}

func (p printNotifier) Notify(typ, message, roomURL string) {
	// The room URL is printed by the command itself.
	if typ == notify.TypeClipboard {
		return
	}
	fmt.Fprintf(p.w, "[%s] %s\n", typ, message)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "y2w",
		Short:         "Sends YouTube videos to Watch2Gether rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Root().PersistentFlags()
			if ok, _ := f.GetBool("version"); ok {
				fmt.Println(buildString)
				os.Exit(0)
			}

			if ok, _ := f.GetBool("new-config"); ok {
				if err := newConfigFile(); err != nil {
					lo.Error().Err(err).Msg("error generating config")
					os.Exit(1)
				}
				fmt.Println("config.toml generated. Edit and run the app.")
				os.Exit(0)
			}

			if err := loadConfig(f); err != nil {
				return err
			}
			lo = initLogger()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	f := root.PersistentFlags()
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.Bool("new-config", false, "Generate a sample config.toml file")
	f.Bool("version", false, "Show build version")

	root.AddCommand(
		newServeCmd(),
		newSendCmd(),
		newValidateCmd(),
		newRoomCmd(),
		newSettingsCmd(),
	)
	return root
}

// withApp opens the store, runs fn with a CLI app and closes the store.
func withApp(fn func(app *App) error) error {
	st, err := initStore(ko, lo)
	if err != nil {
		return fmt.Errorf("error initializing store: %v", err)
	}
	defer st.Close()

	app, err := newApp(ko, st, printNotifier{w: os.Stderr}, lo)
	if err != nil {
		return err
	}
	return fn(app)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API for the browser extension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := initStore(ko, lo)
			if err != nil {
				return fmt.Errorf("error initializing store: %v", err)
			}
			defer st.Close()

			var nCfg notify.Config
			if err := ko.Unmarshal("notify", &nCfg); err != nil {
				return fmt.Errorf("error unmarshalling 'notify' config: %v", err)
			}
			hub := notify.NewHub(nCfg, lo.With().Str("component", "notify").Logger())
			go hub.Run()
			defer hub.Close()

			app, err := newApp(ko, st, hub, lo)
			if err != nil {
				return err
			}
			app.hub = hub

			addr := ko.String("app.address")
			if addr == "" {
				addr = "127.0.0.1:9090"
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           newRouter(app),
				ReadHeaderTimeout: time.Second * 10,
			}
			return serve(srv)
		},
	}
}

// serve runs srv until SIGINT or SIGTERM and then shuts it down.
func serve(srv *http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		lo.Info().Str("address", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("couldn't start server: %v", err)
		}
		return nil
	case <-ctx.Done():
	}

	lo.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send URL [TITLE]",
		Short: "Send a video to the current room",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := video.NormalizeURL(args[0])
			if err != nil {
				return err
			}
			var title string
			if len(args) > 1 {
				title = args[1]
			}

			return withApp(func(app *App) error {
				out := app.disp.Dispatch(cmd.Context(), dispatch.Request{
					VideoURL:   u,
					VideoTitle: video.CleanTitle(title),
				})
				if !out.Succeeded {
					return errors.New(out.Message)
				}
				fmt.Println(out.RoomURL)
				return nil
			})
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [KEY]",
		Short: "Check an API key, or the stored one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *App) error {
				var res dispatch.Validation
				if len(args) == 1 {
					res = app.val.Validate(cmd.Context(), args[0])
				} else {
					res = app.val.Check(cmd.Context())
				}

				switch {
				case !res.Success:
					return errors.New(res.Error)
				case !res.HasAPIKey:
					return errors.New(res.Error)
				case !res.Valid:
					return errors.New("Invalid API key")
				}

				s := "valid"
				if res.Cached {
					s += " (cached " + res.ValidatedAt.Local().Format(time.RFC1123) + ")"
				}
				fmt.Println(s)
				return nil
			})
		},
	}
}

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Show or change the current room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(printRoom)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the current room",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(printRoom)
			},
		},
		&cobra.Command{
			Use:   "set KEY",
			Short: "Use an existing room",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(app *App) error {
					if err := saveRoomKey(app.set, args[0]); err != nil {
						return err
					}
					return printRoom(app)
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget the current room",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(app *App) error {
					return app.set.ClearRoom()
				})
			},
		},
	)
	return cmd
}

func printRoom(app *App) error {
	r, err := currentRoom(app)
	if err != nil {
		return err
	}
	if r.RoomKey == "" {
		fmt.Println("no room")
		return nil
	}
	fmt.Printf("%s\t%s\n", r.RoomKey, r.RoomURL)
	return nil
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *App) error {
				cfg, err := app.set.Load()
				if err != nil {
					return err
				}
				b, _ := json.MarshalIndent(map[string]interface{}{
					"api_key":                maskKey(cfg.APIKey),
					"room_key":               cfg.CurrentRoomKey,
					"create_new_room_always": cfg.CreateNewRoomAlways,
					"auto_sync":              cfg.AutoSyncEnabled,
					"auto_copy":              cfg.AutoCopyEnabled,
				}, "", "  ")
				fmt.Println(string(b))
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Change a setting (api_key, room_key, create_new_room_always, auto_sync, auto_copy)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := settingsReq(args[0], args[1])
			if err != nil {
				return err
			}
			return withApp(func(app *App) error {
				msg, _, err := applySettings(cmd.Context(), app, req)
				if err != nil {
					return err
				}
				fmt.Println(msg)
				return nil
			})
		},
	})
	return cmd
}

// settingsReq turns a NAME VALUE pair into a settings update.
func settingsReq(name, val string) (reqSettings, error) {
	var req reqSettings
	switch name {
	case "api_key":
		req.APIKey = &val
		return req, nil
	case "room_key":
		req.RoomKey = &val
		return req, nil
	}

	b, err := strconv.ParseBool(val)
	if err != nil {
		return req, fmt.Errorf("invalid value for %s: %v", name, err)
	}
	switch name {
	case "create_new_room_always":
		req.CreateNewRoomAlways = &b
	case "auto_sync":
		req.AutoSync = &b
	case "auto_copy":
		req.AutoCopy = &b
	default:
		return req, fmt.Errorf("unknown setting '%s'", name)
	}
	return req, nil
}

// newConfigFile writes the bundled sample config to config.toml.
func newConfigFile() error {
	if _, err := os.Stat("config.toml"); !os.IsNotExist(err) {
		return errors.New("config.toml exists. Remove it to generate a new one")
	}

	sfs, err := initFS()
	if err != nil {
		return err
	}
	b, err := sfs.Read(sampleConfig)
	if err != nil {
		return fmt.Errorf("error reading sample config: %v", err)
	}
	return os.WriteFile("config.toml", b, 0644)
}
