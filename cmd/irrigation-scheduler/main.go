package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/irrigation-scheduler/internal/api/http"
	"github.com/i474232898/irrigation-scheduler/internal/config"
	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
	"github.com/i474232898/irrigation-scheduler/internal/messaging"
	"github.com/i474232898/irrigation-scheduler/internal/scheduler"
	"github.com/i474232898/irrigation-scheduler/internal/store"
	"github.com/i474232898/irrigation-scheduler/internal/weather"
	"github.com/i474232898/irrigation-scheduler/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stations configured by city are geocoded once at startup.
	stations, err := providers.ResolveStations(cfg.GeocoderAPIKey, cfg.Stations)
	if err != nil {
		log.Fatalf("failed to resolve stations: %v", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Providers with resilience (backoff + circuit breaker) behind a rate limiter.
	var sources []weather.Source
	sources = append(sources, providers.NewRateLimitedSource(providers.NewOpenMeteoProvider(httpClient, cfg.Location), cfg.ProviderRPS, cfg.ProviderBurst))
	if cfg.OpenWeatherAPIKey != "" {
		sources = append(sources, providers.NewRateLimitedSource(
			providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey, cfg.Location), cfg.ProviderRPS, cfg.ProviderBurst))
	}
	if cfg.WeatherAPIKey != "" {
		sources = append(sources, providers.NewRateLimitedSource(
			providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey, cfg.Location), cfg.ProviderRPS, cfg.ProviderBurst))
	}

	forecasts := weather.NewService(sources, cfg.ForecastDays, cfg.ForecastTTL)
	if cfg.Influx.Enabled() {
		archive, err := store.NewForecastArchive(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		if err != nil {
			log.Fatalf("failed to configure forecast archive: %v", err)
		}
		defer archive.Close()
		forecasts.SetArchive(archive)
	}

	// Schedule store: SQLite when a path is configured, in-memory otherwise.
	var programmes irrigation.Store
	if cfg.DBPath != "" {
		sq, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer sq.Close()
		programmes = sq
	} else {
		log.Println("INFO: DB_PATH not set; programmes are kept in memory")
		programmes = store.NewMemoryStore()
	}

	var (
		mqttClient messaging.PubSub
		actuator   irrigation.Actuator = irrigation.PassThroughActuator{}
	)
	if cfg.MQTT.Enabled() {
		client, err := messaging.Connect(ctx, messaging.Config{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		})
		if err != nil {
			log.Fatalf("failed to connect to MQTT: %v", err)
		}
		mqttClient = client

		mqttActuator := messaging.NewMQTTActuator(client, cfg.MQTT.CommandTopic, cfg.MQTT.ResultTopic)
		if err := mqttActuator.Start(); err != nil {
			log.Fatalf("failed to start MQTT actuator: %v", err)
		}
		actuator = mqttActuator
	} else {
		log.Println("INFO: MQTT_HOST not set; using pass-through actuation")
	}

	metrics := scheduler.NewMetrics(prometheus.DefaultRegisterer)
	stats := &scheduler.Stats{}
	locks := irrigation.NewKeyedMutex()

	executor := scheduler.NewExecutor(programmes, actuator, locks, scheduler.ExecutorConfig{
		Statuses:         cfg.ExecutionStatuses,
		ActuationTimeout: cfg.ActuationTimeout,
		ConflictRetries:  cfg.ConflictRetries,
	}, metrics, stats)

	adjuster := scheduler.NewAdjuster(programmes, forecasts, irrigation.NewEngine(cfg.PostponeShift, cfg.Location), locks,
		scheduler.AdjusterConfig{
			Stations:         stations,
			ParcelStations:   cfg.ParcelStations,
			DefaultStationID: cfg.DefaultStationID,
			EventWindow:      cfg.EventWindow,
			EventTimeout:     cfg.PassTimeout,
			FetchTimeout:     cfg.FetchTimeout,
			ConflictRetries:  cfg.ConflictRetries,
		}, metrics, stats)

	events := messaging.NewWeatherEvents(func(ctx context.Context, ev weather.ChangeEvent) error {
		_, err := adjuster.HandleWeatherChange(ctx, ev)
		return err
	}, messaging.NewDeduper(10*time.Minute, 0))

	if mqttClient != nil {
		go func() {
			if err := events.Listen(ctx, mqttClient, cfg.MQTT.WeatherTopic); err != nil {
				log.Printf("ERROR: weather listener stopped: %v", err)
			}
		}()
	}

	// Scheduler driving the execution and adjustment loops.
	sched := scheduler.New(cfg.Location, scheduler.Config{
		ExecutionInterval: cfg.ExecutionInterval,
		NarrowCron:        cfg.NarrowCron,
		NarrowWindow:      cfg.NarrowWindow,
		BroadCron:         cfg.BroadCron,
		BroadWindow:       cfg.BroadWindow,
		PassTimeout:       cfg.PassTimeout,
	}, executor, adjuster)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "irrigation-scheduler",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.PassTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "irrigation-scheduler",
			"stats":   stats.Snapshot(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Store:     programmes,
		Locks:     locks,
		Forecasts: forecasts,
		Stations:  stations,
		Adjuster:  adjuster,
		Events:    events,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
