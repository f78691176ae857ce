package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/cobra"

	"github.com/brightwallet/sendcore/internal/config"
	"github.com/brightwallet/sendcore/internal/controller"
	walletstatedb "github.com/brightwallet/sendcore/internal/database"
	"github.com/brightwallet/sendcore/internal/fx"
	"github.com/brightwallet/sendcore/lib/fees"
	"github.com/brightwallet/sendcore/lib/finalizer"
)

var (
	sendAddress   string
	sendAmount    int64
	sendBalance   int64
	sendChange    string
	sendRawTxFile string
	sendRBF       bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Negotiate the fee for a send and broadcast it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend()
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendAddress, "address", "", "recipient address")
	sendCmd.Flags().Int64Var(&sendAmount, "amount", 0, "amount to send in satoshis")
	sendCmd.Flags().Int64Var(&sendBalance, "balance", 0, "spendable balance snapshot in satoshis")
	sendCmd.Flags().StringVar(&sendChange, "change-address", "", "change address")
	sendCmd.Flags().StringVar(&sendRawTxFile, "raw-tx", "", "file with the signed transaction hex from the wallet signer")
	sendCmd.Flags().BoolVar(&sendRBF, "rbf", false, "enable replace-by-fee")
	sendCmd.MarkFlagRequired("address")
	sendCmd.MarkFlagRequired("amount")
	sendCmd.MarkFlagRequired("balance")
}

// buildWorkflow assembles estimator, finalizer and controller for one send.
func buildWorkflow(cfg *config.Config, onUpdate func(controller.Snapshot)) (*controller.Controller, *finalizer.TxFinalizer, *fees.Estimator, error) {
	if err := walletstatedb.InitDB(cfg.DBPath()); err != nil {
		return nil, nil, nil, fmt.Errorf("error opening wallet state database: %v", err)
	}

	est := fees.NewEstimator(cfg.MempoolAPI(), cfg.FeeCacheTTL())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := est.Refresh(ctx); err != nil {
		log.Printf("Fee estimate fetch failed, using fallback values: %v", err)
	}
	cancel()

	caster := finalizer.NewNetworkBroadcaster(
		signerFromFile(sendRawTxFile),
		finalizer.ElectrumConfig{ServerAddr: cfg.ElectrumServer(), UseSSL: cfg.ElectrumUseSSL()},
		cfg.MempoolAPI(),
	)

	fin := finalizer.New(finalizer.Config{
		Params:        cfg.ChainParams(),
		Estimator:     est,
		Broadcaster:   caster,
		ChangeAddress: sendChange,
		Record: func(snap finalizer.Snapshot, txid chainhash.Hash) {
			err := walletstatedb.SaveSentTransaction(&walletstatedb.SentTransaction{
				TxID:      txid.String(),
				Address:   snap.Address,
				AmountSat: int64(snap.Amount),
				FeeSat:    int64(snap.Fee),
				FeeRate:   snap.FeeRate,
				Method:    int(snap.Method),
				SliderPos: snap.SliderPos,
				RBF:       snap.RBF,
				Target:    snap.Target,
				Date:      time.Now(),
			})
			if err != nil {
				log.Printf("Error recording sent transaction: %v", err)
			}
		},
	})

	policy := controller.CommitContinuous
	if cfg.CommitOnRelease() {
		policy = controller.CommitOnRelease
	}
	ctrl := controller.New(fin, policy, onUpdate)
	return ctrl, fin, est, nil
}

// signerFromFile returns a SignFunc that loads the signed transaction the
// external wallet signer produced. Signing itself never happens here.
func signerFromFile(path string) finalizer.SignFunc {
	return func(ctx context.Context, snap finalizer.Snapshot) (*wire.MsgTx, error) {
		if path == "" {
			return nil, fmt.Errorf("no signed transaction provided (use --raw-tx)")
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read signed transaction: %v", err)
		}
		txBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode transaction hex: %v", err)
		}
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
			return nil, fmt.Errorf("failed to deserialize transaction: %v", err)
		}
		return tx, nil
	}
}

func runSend() error {
	ctrl, fin, _, err := buildWorkflow(cfg, nil)
	if err != nil {
		return err
	}
	defer fin.Close()

	fin.UpdateBalance(btcutil.Amount(sendBalance))
	if err := ctrl.SetAddress(sendAddress); err != nil {
		return err
	}
	if err := ctrl.SetAmount(btcutil.Amount(sendAmount)); err != nil {
		return err
	}
	if sendRBF {
		if err := ctrl.SetRBF(true); err != nil {
			return err
		}
	}

	rates := fx.New(cfg.FiatEnabled(), cfg.FiatCurrency(), cfg.MempoolAPI(), time.Minute)
	reader := bufio.NewReader(os.Stdin)

	for {
		snap := ctrl.Snapshot()
		printDraft(snap, rates)

		fmt.Println("\n1. Fee method")
		fmt.Println("2. Slider position")
		fmt.Println("3. Toggle RBF")
		fmt.Println("4. Confirm and broadcast")
		fmt.Println("5. Cancel")
		fmt.Print("\nEnter your choice (1-5): ")
		choice, _ := reader.ReadString('\n')

		switch strings.TrimSpace(choice) {
		case "1":
			fmt.Print("Method (static, eta, mempool): ")
			input, _ := reader.ReadString('\n')
			m, perr := parseMethodName(strings.TrimSpace(input))
			if perr != nil {
				fmt.Println(perr)
				continue
			}
			if err := ctrl.SelectMethod(m); err != nil {
				fmt.Println(err)
			}
		case "2":
			snap = ctrl.Snapshot()
			fmt.Printf("Position (0-%d): ", snap.Draft.SliderSteps)
			input, _ := reader.ReadString('\n')
			pos, perr := strconv.Atoi(strings.TrimSpace(input))
			if perr != nil {
				fmt.Println("invalid position")
				continue
			}
			ctrl.BeginSliderDrag()
			if err := ctrl.SetSliderPosition(pos); err != nil {
				fmt.Println(err)
			}
			ctrl.EndSliderDrag()
		case "3":
			snap = ctrl.Snapshot()
			if err := ctrl.SetRBF(!snap.Draft.RBF); err != nil {
				fmt.Println(err)
			}
		case "4":
			txid, cerr := ctrl.Confirm(context.Background())
			if cerr != nil {
				fmt.Printf("Broadcast failed: %v\n", cerr)
				var fatal *finalizer.FatalError
				if errors.As(cerr, &fatal) {
					recordAudit(ctrl.Snapshot(), "error")
					return cerr
				}
				continue
			}
			fmt.Printf("Transaction sent. TxID: %s\n", txid.String())
			if err := clipboard.WriteAll(txid.String()); err == nil {
				fmt.Println("TxID copied to clipboard")
			}
			recordAudit(ctrl.Snapshot(), "sent")
			return nil
		case "5":
			if err := ctrl.Cancel(); err != nil {
				fmt.Println(err)
				continue
			}
			recordAudit(ctrl.Snapshot(), "cancelled")
			fmt.Println("Send cancelled")
			return nil
		}
	}
}

func parseMethodName(name string) (fees.Method, error) {
	switch strings.ToLower(name) {
	case "static":
		return fees.Static, nil
	case "eta":
		return fees.ETA, nil
	case "mempool":
		return fees.Mempool, nil
	}
	return 0, fmt.Errorf("unknown fee method %q", name)
}

func printDraft(snap controller.Snapshot, rates *fx.Rates) {
	d := snap.Draft
	fmt.Printf("\nTo:      %s\n", d.Address)
	fmt.Printf("Amount:  %s", cfg.FormatSats(d.Amount))
	if fiat := rates.FiatValue(d.Amount); fiat != "" {
		fmt.Printf(" (%s)", fiat)
	}
	fmt.Println()
	fmt.Printf("Method:  %s (%s)\n", d.Method, d.Target)
	fmt.Printf("Slider:  %d of %d\n", d.SliderPos, d.SliderSteps)
	fmt.Printf("Fee:     %s at %.2f sat/vB\n", cfg.FormatSats(d.Fee), d.FeeRate)
	fmt.Printf("RBF:     %v\n", d.RBF)
	if d.Warning != "" {
		fmt.Printf("Warning: %s\n", d.Warning)
	}
	if snap.CanConfirm() {
		fmt.Println("Ready to broadcast.")
	}
}

func recordAudit(snap controller.Snapshot, outcome string) {
	d := snap.Draft
	err := walletstatedb.SaveDraftAudit(&walletstatedb.DraftAudit{
		Address:   d.Address,
		AmountSat: int64(d.Amount),
		FeeSat:    int64(d.Fee),
		FeeRate:   d.FeeRate,
		Method:    int(d.Method),
		SliderPos: d.SliderPos,
		RBF:       d.RBF,
		Outcome:   outcome,
		Warning:   d.Warning,
	})
	if err != nil {
		log.Printf("Error saving draft audit: %v", err)
	}
}
