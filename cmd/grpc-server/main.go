package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"reelhub/internal/app"
	"reelhub/internal/grpcserver"
	"reelhub/pkg/logger"
	"reelhub/pkg/utils"
)

func main() {
	log := logger.Get()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	logger.SetLevel(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	store, closeStore, err := app.OpenStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open record store")
	}
	defer closeStore()

	listener, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen failed")
	}

	health := grpcserver.NewServer(store, cfg.AllDomains(), cfg.GRPC.CheckTimeout, log)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go health.Run(ctx, cfg.GRPC.CheckEvery)
	go func() {
		<-ctx.Done()
		log.Info("stopping gRPC server")
		grpcServer.GracefulStop()
	}()

	log.WithField("addr", cfg.GRPC.Addr).Info("gRPC health server listening")
	if err := grpcServer.Serve(listener); err != nil {
		log.WithError(err).Fatal("grpc server stopped")
	}
}
