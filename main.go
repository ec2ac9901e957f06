package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fjacquet/bank-recon/cmd/automatch"
	"fjacquet/bank-recon/cmd/importcmd"
	"fjacquet/bank-recon/cmd/reconcile"
	"fjacquet/bank-recon/cmd/root"
	"fjacquet/bank-recon/cmd/suggest"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func init() {
	// Load environment variables silently first, before any logging happens
	loadEnvSilently()

	// Configure the global log level so early package loggers honor it
	configureLogLevelDirectly()

	root.Init()

	root.Cmd.AddCommand(importcmd.Cmd)
	root.Cmd.AddCommand(suggest.Cmd)
	root.Cmd.AddCommand(automatch.Cmd)
	root.Cmd.AddCommand(reconcile.Cmd)
}

// loadEnvSilently loads environment variables without logging anything
func loadEnvSilently() {
	envFile := ".env"
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		envFile = filepath.Join("..", ".env")
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			return
		}
	}
	_ = godotenv.Load(envFile)
}

// configureLogLevelDirectly sets the global logrus level from LOG_LEVEL
func configureLogLevelDirectly() {
	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	logLevel, err := logrus.ParseLevel(strings.ToLower(logLevelStr))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logrus.SetLevel(logLevel)
}

func main() {
	if err := root.Cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
