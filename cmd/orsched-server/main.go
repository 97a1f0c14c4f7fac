package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/orsched/orsched/internal/config"
	"github.com/orsched/orsched/internal/domain/addon"
	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/domain/prediction"
	"github.com/orsched/orsched/internal/domain/registry"
	"github.com/orsched/orsched/internal/domain/schedule"
	"github.com/orsched/orsched/internal/domain/utilization"
	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/internal/platform/db"
	"github.com/orsched/orsched/internal/platform/middleware"
	"github.com/orsched/orsched/internal/platform/notification"
	"github.com/orsched/orsched/internal/platform/timeline"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orsched-server",
		Short: "Operating-room scheduling and admission-control server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	zlog.Logger = logger

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.AuthEnabled {
		e.Use(auth.Middleware(cfg.AuthSecret))
	} else {
		e.Use(auth.DevMiddleware())
	}

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Notification dispatcher
	dispatcher := notification.NewDispatcher(256, notification.LogNotifier{})
	defer dispatcher.Close()

	// Timeline engine
	engine := timeline.NewEngine()

	// Resource registry
	roomRepo := registry.NewPgRoomRepository(pool)
	blockRepo := registry.NewPgBlockRepository(pool)
	staffRepo := registry.NewPgStaffRepository(pool)
	equipmentRepo := registry.NewPgEquipmentRepository(pool)
	regSvc := registry.NewService(roomRepo, blockRepo, staffRepo, equipmentRepo, engine)
	regHandler := registry.NewHandler(regSvc)
	regHandler.RegisterRoutes(apiV1)

	// Cases
	caseRepo := cases.NewPgRepository(pool)
	caseSvc := cases.NewService(caseRepo)
	caseHandler := cases.NewHandler(caseSvc)
	caseHandler.RegisterRoutes(apiV1)

	// Duration prediction
	historyRepo := prediction.NewPgHistoryRepository(pool)
	predictor := prediction.NewPredictor(historyRepo)
	recorder := prediction.NewRecorder(historyRepo, predictor)
	predHandler := prediction.NewHandler(predictor)
	predHandler.RegisterRoutes(apiV1)

	// Scheduling
	detector := schedule.NewDetector(regSvc, caseSvc, engine, cfg.DefaultTurnoverMinutes)
	scheduler := schedule.NewService(regSvc, caseSvc, predictor, detector, engine, dispatcher,
		schedule.Options{
			RetryLimit:             cfg.OptimisticRetryLimit,
			DefaultTurnoverMinutes: cfg.DefaultTurnoverMinutes,
			HoldTTL:                cfg.HoldTTL(),
		})
	schedHandler := schedule.NewHandler(scheduler)
	schedHandler.RegisterRoutes(apiV1)

	// Add-on admission
	bumpRepo := addon.NewPgBumpRepository(pool)
	controller := addon.NewController(caseSvc, regSvc, scheduler, detector, engine, dispatcher,
		bumpRepo, addon.Policy{
			MaxBumpsPerDay:      cfg.MaxBumpsPerDay,
			ProtectedPriorities: []cases.Priority{cases.PriorityEmergent},
			ApprovalRequired:    cfg.BumpApprovalRequired,
		})
	addonHandler := addon.NewHandler(controller, caseSvc)
	addonHandler.RegisterRoutes(apiV1)

	// Utilization and turnover tracking
	turnoverRepo := utilization.NewPgTurnoverRepository(pool)
	utilSvc := utilization.NewService(turnoverRepo, regSvc, engine, cfg.DefaultTurnoverMinutes)
	utilHandler := utilization.NewHandler(utilSvc)
	utilHandler.RegisterRoutes(apiV1)

	// Live transitions feed the duration history and the turnover
	// tracker, and free timeline slots when cases cancel or delay.
	caseSvc.AddObserver(recorder)
	caseSvc.AddObserver(utilSvc)
	caseSvc.AddObserver(scheduler)

	// Rebuild the in-memory timeline from persisted placements.
	if err := seedTimeline(ctx, regSvc, caseSvc, engine); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed timeline")
	}

	// Expired holds are swept in the background.
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go sweepHolds(sweepCtx, scheduler, logger)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	return nil
}

// seedTimeline tracks every registered room and replays the placements
// of cases that still occupy rooms, so a restart does not lose the
// double-booking guard.
func seedTimeline(ctx context.Context, regSvc *registry.Service, caseSvc *cases.Service,
	engine *timeline.Engine) error {
	rooms, _, err := regSvc.ListRooms(ctx, 10000, 0)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		engine.TrackRoom(room.ID)
	}

	seeded := 0
	list, _, err := caseSvc.ListCases(ctx, cases.ListFilter{Limit: 10000})
	if err != nil {
		return err
	}
	for _, c := range list {
		if !c.Status.Active() || !c.Placed() {
			continue
		}
		_, err := engine.Reserve(*c.RoomID, timeline.Reservation{
			CaseID: c.ID,
			Interval: timeline.Interval{
				Start: *c.ScheduledStart,
				End:   *c.ScheduledEnd,
			},
		})
		if err != nil {
			zlog.Warn().Err(err).Str("case_id", c.ID.String()).Msg("skipping unseatable placement")
			continue
		}
		seeded++
	}
	zlog.Info().Int("rooms", len(rooms)).Int("reservations", seeded).Msg("timeline seeded")
	return nil
}

// sweepHolds releases tentative holds whose TTL has passed.
func sweepHolds(ctx context.Context, scheduler *schedule.Service, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := scheduler.ExpireHolds(ctx); n > 0 {
				logger.Info().Int("expired", n).Msg("released expired holds")
			}
		}
	}
}
