package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/davik/stock_day_trader/internal/infrastructure/storage"
)

// Prints recent closed trades from the store.
func main() {
	dbPath := flag.String("db", "bot.db", "sqlite database path")
	limit := flag.Int("limit", 50, "number of trades to print")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	trades, err := store.ListClosedTrades(context.Background(), *limit)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}
	if len(trades) == 0 {
		fmt.Println("no closed trades")
		return
	}

	var wins int
	var totalPnL float64
	for _, t := range trades {
		fmt.Printf("%s %-3s %-10s x%-6d in %.2f out %.2f %+7.2f%% %-8s %s\n",
			t.ClosedAt.Format("2006-01-02 15:04"), t.Market, t.Symbol, t.Quantity,
			t.EntryPrice, t.ExitPrice, t.ProfitPct, t.Result, t.Reason)
		totalPnL += t.ProfitPct
		if t.ProfitPct > 0 {
			wins++
		}
	}
	fmt.Printf("\n%d trades, %d wins (%.0f%%), avg %+.2f%%\n",
		len(trades), wins, float64(wins)/float64(len(trades))*100, totalPnL/float64(len(trades)))
}
