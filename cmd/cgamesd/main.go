package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cometbft/cometbft/abci/server"
	"github.com/sirupsen/logrus"

	"github.com/ayush99336/confidential-games/internal/app"
	"github.com/ayush99336/confidential-games/internal/compute"
	"github.com/ayush99336/confidential-games/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	// Flags override environment.
	var (
		home      = flag.String("home", cfg.Home, "app home directory (state under <home>/app)")
		addr      = flag.String("addr", cfg.ListenAddr, "ABCI listen address")
		transport = flag.String("transport", cfg.Transport, "ABCI transport (socket|grpc)")
		computeDB = flag.String("compute-db", cfg.ComputeDB, "compute engine value store path")
		logLevel  = flag.String("log-level", cfg.LogLevel, "log level")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.WithError(err).Fatal("parse log level")
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "cgamesd")

	engine, err := compute.NewEngine(*computeDB)
	if err != nil {
		log.WithError(err).Fatal("init compute engine")
	}
	defer func() { _ = engine.Close() }()

	a, err := app.New(*home, engine, engine.AttestationKey())
	if err != nil {
		log.WithError(err).Fatal("init app")
	}

	srv, err := server.NewServer(*addr, *transport, a)
	if err != nil {
		log.WithError(err).Fatal("create abci server")
	}
	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("start abci server")
	}
	defer func() { _ = srv.Stop() }()

	log.WithFields(logrus.Fields{
		"addr":      *addr,
		"transport": *transport,
		"home":      *home,
	}).Info("node ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
}
