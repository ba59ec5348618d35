package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/lithammer/dedent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pc29564530/khelogames-client/internal/api"
	"github.com/pc29564530/khelogames-client/internal/biometric"
	"github.com/pc29564530/khelogames-client/internal/config"
	"github.com/pc29564530/khelogames-client/internal/refresh"
	"github.com/pc29564530/khelogames-client/internal/securestore"
	"github.com/pc29564530/khelogames-client/internal/session"
)

var usage = strings.TrimLeft(dedent.Dedent(`
	Usage: khelogames <command>

	Commands:
	  login    Sign in and store credentials securely
	  logout   Invalidate the session and erase stored credentials
	  status   Show the current session state
	  token    Print a valid access token (refreshing it if needed)
	  run      Keep the session alive until interrupted
`), "\n")

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()

	if missing := checkRequiredConfig(); len(missing) > 0 {
		if isInteractiveTerminal() {
			if !runSetupWizard() {
				os.Exit(1)
			}
		} else {
			log.Fatal().Msgf("missing required config: %s", strings.Join(missing, ", "))
		}
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	store, err := securestore.Open(cfg.DBPath, cfg.StorePassphrase)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open secure store")
	}
	defer store.Close()

	deviceID, err := store.DeviceID()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get device id")
	}

	client := api.NewClient(api.ClientOpts{
		BaseURL:  cfg.APIBaseURL,
		DeviceID: deviceID,
	})

	observer := &logObserver{}

	coordinator := refresh.NewCoordinator(refresh.Config{
		Store:  store,
		Client: client,
		Buffer: cfg.RefreshBuffer,
	})
	manager := session.NewManager(store, coordinator, client, observer, cfg.LegacySessionPath)
	coordinator.SetOnForcedLogout(manager.HandleForcedLogout)

	// The CLI has no biometric hardware; the gate routes every sensitive
	// action to its fallback handler.
	gate := biometric.NewGate(biometric.UnsupportedPlatform{}, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "login":
		cmdLogin(ctx, manager)
	case "logout":
		cmdLogout(ctx, manager, gate)
	case "status":
		cmdStatus(store)
	case "token":
		cmdToken(ctx, manager, coordinator)
	case "run":
		cmdRun(ctx, manager, coordinator)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func cmdLogin(ctx context.Context, manager *session.Manager) {
	var username, password string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&username).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("username is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("password is required")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Login cancelled.")
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("login prompt failed")
	}

	user, err := manager.Login(ctx, api.Credentials{Username: username, Password: password})
	if err != nil {
		log.Fatal().Err(err).Msg("login failed")
	}
	fmt.Printf("Signed in as %s\n", user.DisplayName)
}

func cmdLogout(ctx context.Context, manager *session.Manager, gate *biometric.Gate) {
	doLogout := func() bool {
		manager.Logout(ctx)
		fmt.Println("Signed out.")
		return true
	}

	authorized := gate.ForSensitiveAction(ctx, biometric.SensitiveAction{
		Name:       "logout",
		OnSuccess:  doLogout,
		OnFallback: doLogout,
		OnCancel:   func() bool { return false },
	})
	if !authorized {
		fmt.Println("Logout cancelled.")
		os.Exit(1)
	}
}

func cmdStatus(store *securestore.Store) {
	bundle := store.GetTokens()
	if bundle == nil {
		fmt.Println("Not signed in.")
		return
	}

	user := store.GetUser()
	if user != nil {
		fmt.Printf("Signed in as %s (%s)\n", user.DisplayName, user.PublicID)
	} else {
		fmt.Println("Signed in.")
	}

	if bundle.AccessTokenExpiresAt.IsZero() {
		fmt.Println("Access token expiry unknown; will refresh on next use.")
		return
	}
	fmt.Printf("Access token expires %s\n",
		bundle.AccessTokenExpiresAt.Local().Format(time.RFC1123))
}

func cmdToken(ctx context.Context, manager *session.Manager, coordinator *refresh.Coordinator) {
	if err := manager.InitializeOnAppStart(ctx); err != nil {
		log.Fatal().Err(err).Msg("session unavailable")
	}

	token, err := coordinator.GetValidAccessToken(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("no valid access token")
	}
	fmt.Println(token)
}

// cmdRun keeps the session alive until interrupted: the coordinator's
// proactive timer renews the access token ahead of every expiry.
func cmdRun(ctx context.Context, manager *session.Manager, coordinator *refresh.Coordinator) {
	if err := manager.InitializeOnAppStart(ctx); err != nil {
		log.Fatal().Err(err).Msg("could not restore session")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("stopping session keep-alive")
		coordinator.CancelRefresh()
		return ctx.Err()
	})

	log.Info().Msg("session keep-alive running, press Ctrl-C to stop")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("keep-alive stopped")
	}
}

// logObserver is the CLI's auth-state observer: there is no app-wide state
// store to dispatch into, so transitions are just logged.
type logObserver struct{}

func (o *logObserver) SetAuthenticated(authenticated bool) {
	log.Debug().Bool("authenticated", authenticated).Msg("auth state changed")
}

func (o *logObserver) SetUser(user *securestore.UserIdentity) {
	log.Debug().Str("user", user.PublicID).Msg("user set")
}

func (o *logObserver) Logout() {
	log.Debug().Msg("logout dispatched")
}
