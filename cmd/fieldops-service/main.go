package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nurpe/fieldops/internal/auth"
	"github.com/nurpe/fieldops/internal/config"
	"github.com/nurpe/fieldops/internal/db"
	"github.com/nurpe/fieldops/internal/excel"
	httphandler "github.com/nurpe/fieldops/internal/http"
	"github.com/nurpe/fieldops/internal/http/middleware"
	"github.com/nurpe/fieldops/internal/jobs"
	"github.com/nurpe/fieldops/internal/logger"
	"github.com/nurpe/fieldops/internal/metrics"
	"github.com/nurpe/fieldops/internal/notify"
	"github.com/nurpe/fieldops/internal/pdf"
	"github.com/nurpe/fieldops/internal/repository"
	"github.com/nurpe/fieldops/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	loc := cfg.Schedule.Location
	store := repository.NewGormStore(database)
	resolver := service.NewAvailabilityResolver(store, loc)
	conflicts := service.NewConflictChecker(store, loc)
	allocator := service.NewResourceAllocator(store, resolver, conflicts, service.AllocatorConfig{
		VehicleToiletRatio: cfg.Schedule.VehicleToiletRatio,
		Location:           loc,
	}, m, log)

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	smtpCfg := notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	if smtpCfg.Enabled() {
		notifiers = append(notifiers, notify.NewEmailNotifier(store, notify.NewSMTPSender(smtpCfg), log))
	} else {
		log.Info().Msg("SMTP not configured, client emails disabled")
	}
	machine := service.NewServiceStateMachine(store, allocator, notifiers, m, log)

	scheduler := service.NewMaintenanceScheduler(store, service.MaintenanceDefaults{
		Type:          cfg.Maintenance.DefaultType,
		Technician:    cfg.Maintenance.DefaultTechnician,
		Cost:          cfg.Maintenance.DefaultCost,
		LookaheadDays: cfg.Maintenance.LookaheadDays,
		Location:      loc,
	}, m, log)
	reports := service.NewReportService(store, excel.NewGenerator(), pdf.NewGenerator(), loc)

	sweep := jobs.NewMaintenanceSweep(scheduler, cfg.Maintenance.SweepCron, loc, log)
	if err := sweep.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start maintenance sweep")
	}

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(httphandler.Dependencies{
		Services:     allocator,
		Statuses:     machine,
		Availability: resolver,
		Conflicts:    conflicts,
		Maintenance:  scheduler,
		Reports:      reports,
	}, loc, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, httphandler.RouterConfig{
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Gatherer:       registry,
		Log:            log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", addr).Msg("starting fieldops service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	sweep.Stop(shutdownCtx)

	if sqlDB, err := database.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
