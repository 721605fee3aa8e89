package nutrisurveycli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phillip-england/nutrisurvey/internal/apiapp"
	"github.com/phillip-england/nutrisurvey/internal/clientapp"
	"github.com/phillip-england/nutrisurvey/internal/remotestore"
	"github.com/phillip-england/nutrisurvey/internal/survey"
)

type RunOptions struct {
	*RootOptions
	Memory bool
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:       "run api|client|all",
		Short:     "Serve the store API, the survey wizard, or both",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"api", "client", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var err error
			switch args[0] {
			case "api":
				err = runAPI(ctx, opts)
			case "client":
				err = runClient(ctx, opts)
			default:
				err = runAll(ctx, opts)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Memory, "memory", false, "client only: keep surveys and photos in process memory instead of the store API; photos are served under "+clientapp.PhotosPath)
	return cmd
}

func runAPI(ctx context.Context, opts *RunOptions) error {
	cfg := opts.Config.API
	if err := ensureParentDirs(cfg.DBPath); err != nil {
		return err
	}
	return apiapp.Run(ctx, apiapp.Config{
		Addr:           cfg.Addr,
		DBPath:         cfg.DBPath,
		PublicBaseURL:  cfg.PublicURL,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         opts.Logger.Named("api"),
	})
}

func runClient(ctx context.Context, opts *RunOptions) error {
	cfg := opts.Config.Client
	logger := opts.Logger.Named("client")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	key, generated, err := cfg.CSRFKeyBytes()
	if err != nil {
		return err
	}
	if generated {
		logger.Warn("no csrf key configured, using a per-process key")
	}

	var store clientapp.Store
	var photos http.Handler
	photoOrigin := ""
	if opts.Memory {
		logger.Warn("surveys are kept in memory and lost on exit")
		memory := remotestore.NewMemory()
		memory.SetBaseURL(clientapp.PhotosPath + survey.Bucket)
		store, photos = memory, memory
	} else {
		store = remotestore.NewClient(cfg.APIBaseURL, nil, logger.Named("store"))
		photoOrigin = origin(opts.Config.API.PublicURL)
		if photoOrigin == "" {
			photoOrigin = origin(cfg.APIBaseURL)
		}
	}

	return clientapp.Run(ctx, clientapp.Config{
		Addr:           cfg.Addr,
		PhotoPolicy:    cfg.PhotoPolicy,
		Location:       loc,
		CSRFKey:        key,
		Secure:         cfg.Secure,
		PhotoOrigin:    photoOrigin,
		MaxUploadBytes: opts.Config.API.MaxUploadBytes(),
		Photos:         photos,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   60 * time.Second,
		Logger:         logger,
	}, store)
}

func runAll(ctx context.Context, opts *RunOptions) error {
	errCh := make(chan error, 2)

	go func() { errCh <- runAPI(ctx, opts) }()
	go func() {
		time.Sleep(500 * time.Millisecond)
		errCh <- runClient(ctx, opts)
	}()

	for i := 0; i < 2; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			opts.Logger.Error("server stopped", zap.Error(err))
			return err
		}
	}
	return nil
}

// origin reduces a URL to scheme://host for use in a CSP source list.
func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
