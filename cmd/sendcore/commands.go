package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/cobra"

	"github.com/brightwallet/sendcore/internal/channels"
	"github.com/brightwallet/sendcore/internal/controller"
	walletstatedb "github.com/brightwallet/sendcore/internal/database"
	"github.com/brightwallet/sendcore/internal/ipc"
	"github.com/brightwallet/sendcore/lib/fees"
)

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "Print the current fee ladder for every method",
	RunE: func(cmd *cobra.Command, args []string) error {
		est := fees.NewEstimator(cfg.MempoolAPI(), cfg.FeeCacheTTL())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := est.Refresh(ctx); err != nil {
			log.Printf("Fee estimate fetch failed, showing fallback values: %v", err)
		}

		for _, m := range []fees.Method{fees.ETA, fees.Mempool, fees.Static} {
			fmt.Printf("\n%s:\n", m)
			for pos := 0; pos <= fees.Steps(m); pos++ {
				rate, target := est.RateForPosition(m, pos)
				marker := " "
				if pos == fees.DefaultPosition(m) {
					marker = "*"
				}
				fmt.Printf(" %s %2d  %-22s %.2f sat/vB\n", marker, pos, target, rate)
			}
		}
		return nil
	},
}

var channelsFile string

// channelFileEntry is one channel row in the engine's export format.
type channelFileEntry struct {
	CID           string `json:"cid"`
	ShortCID      string `json:"short_cid"`
	NodeAlias     string `json:"node_alias"`
	State         string `json:"state"`
	CapacitySat   int64  `json:"capacity"`
	CanSendSat    int64  `json:"can_send"`
	CanReceiveSat int64  `json:"can_receive"`
	SendFrozen    bool   `json:"send_frozen"`
	ReceiveFrozen bool   `json:"receive_frozen"`
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Summarize Lightning channel capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(channelsFile)
		if err != nil {
			return fmt.Errorf("error reading channels file: %v", err)
		}
		var entries []channelFileEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("error parsing channels file: %v", err)
		}

		model := channels.NewModel()
		list := make([]channels.Channel, 0, len(entries))
		for _, e := range entries {
			list = append(list, channels.Channel{
				CID:           e.CID,
				ShortCID:      e.ShortCID,
				NodeAlias:     e.NodeAlias,
				State:         e.State,
				Capacity:      btcutil.Amount(e.CapacitySat),
				CanSend:       btcutil.Amount(e.CanSendSat),
				CanReceive:    btcutil.Amount(e.CanReceiveSat),
				SendFrozen:    e.SendFrozen,
				ReceiveFrozen: e.ReceiveFrozen,
			})
		}
		model.Reload(list)

		summary := channels.NewSummary(model)
		defer summary.Close()

		for _, ch := range model.Snapshot() {
			fmt.Printf("%-14s %-20s %-8s send %s / receive %s\n",
				ch.ShortCID, ch.NodeAlias, ch.State,
				cfg.FormatSats(ch.CanSend), cfg.FormatSats(ch.CanReceive))
		}
		fmt.Printf("\nCan send:    %s\n", cfg.FormatSats(summary.CanSend()))
		fmt.Printf("Can receive: %s\n", cfg.FormatSats(summary.CanReceive()))
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List broadcast transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := walletstatedb.InitDB(cfg.DBPath()); err != nil {
			return fmt.Errorf("error opening wallet state database: %v", err)
		}
		txs, err := walletstatedb.ListSentTransactions(historyLimit)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			fmt.Println("No transactions recorded")
			return nil
		}
		for _, tx := range txs {
			fmt.Printf("%s  %s  %s -> %s  fee %s (%.2f sat/vB)\n",
				tx.Date.Format("2006-01-02 15:04"), tx.TxID,
				cfg.FormatSats(btcutil.Amount(tx.AmountSat)), tx.Address,
				cfg.FormatSats(btcutil.Amount(tx.FeeSat)), tx.FeeRate)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the send workflow over the IPC socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		var server *ipc.Server
		ctrl, fin, est, err := buildWorkflow(cfg, func(snap controller.Snapshot) {
			if server != nil {
				server.Broadcast(snap)
			}
		})
		if err != nil {
			return err
		}
		defer fin.Close()
		fin.UpdateBalance(btcutil.Amount(sendBalance))

		server, err = ipc.NewServer(cfg.IPCSocket(), ctrl)
		if err != nil {
			return fmt.Errorf("error starting IPC server: %v", err)
		}
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go est.AutoRefresh(ctx, cfg.FeeCacheTTL())

		log.Printf("IPC server listening on %s", cfg.IPCSocket())
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return nil
	},
}

func init() {
	channelsCmd.Flags().StringVar(&channelsFile, "file", "channels.json", "channels export file from the wallet engine")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows to list")
	serveCmd.Flags().Int64Var(&sendBalance, "balance", 0, "spendable balance snapshot in satoshis")
	serveCmd.Flags().StringVar(&sendChange, "change-address", "", "change address")
	serveCmd.Flags().StringVar(&sendRawTxFile, "raw-tx", "", "file with the signed transaction hex from the wallet signer")
}
