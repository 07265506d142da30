package cmd

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang-backtest/internal/dto"
	"golang-backtest/internal/repository"
	"golang-backtest/internal/service"

	"github.com/spf13/cobra"
)

var backtestRequest dto.BacktestRequest

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a single backtest and print the result as JSON",
	Run:   RunBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestRequest.Ticker, "ticker", "", "instrument to simulate")
	backtestCmd.Flags().StringVar(&backtestRequest.StartDate, "start", "", "start date (YYYY-MM-DD)")
	backtestCmd.Flags().StringVar(&backtestRequest.EndDate, "end", "", "end date (YYYY-MM-DD)")
	backtestCmd.Flags().Float64Var(&backtestRequest.InitialCapital, "capital", 0, "starting cash, 0 uses the configured default")
	backtestCmd.Flags().IntVar(&backtestRequest.DecisionInterval, "interval", 0, "trading days between decisions, 0 uses the configured default")
	backtestCmd.Flags().StringVar(&backtestRequest.BenchmarkTicker, "benchmark", "", "benchmark ticker for beta and alpha")
	_ = backtestCmd.MarkFlagRequired("ticker")
	_ = backtestCmd.MarkFlagRequired("start")
	_ = backtestCmd.MarkFlagRequired("end")
}

func RunBacktest(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}
	defer func() {
		if err := appDep.Close(); err != nil {
			log.Printf("Failed to close app dependency: %v", err)
		}
	}()

	repo, err := repository.NewRepository(appDep.cfg, appDep.cache, appDep.db.DB, appDep.log)
	if err != nil {
		log.Fatalf("Failed to create repository: %v", err)
	}

	services, err := service.NewService(appDep.cfg, appDep.log, repo)
	if err != nil {
		log.Fatalf("Failed to create services: %v", err)
	}

	if err := appDep.validator.Struct(backtestRequest); err != nil {
		log.Fatalf("Invalid backtest request: %v", err)
	}

	response, err := services.BacktestService.RunBacktest(ctx, backtestRequest)
	if err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
}
