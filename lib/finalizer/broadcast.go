package finalizer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/checksum0/go-electrum/electrum"
)

// ElectrumConfig holds the Electrum server endpoint for broadcasting.
type ElectrumConfig struct {
	ServerAddr string
	UseSSL     bool
}

// SignFunc produces a fully signed transaction for the given draft. Signing
// lives with the external wallet engine; failures here (wallet locked,
// signer unreachable) are fatal for the workflow.
type SignFunc func(ctx context.Context, snap Snapshot) (*wire.MsgTx, error)

// NetworkBroadcaster publishes signed transactions: Electrum server first,
// then public REST APIs, with a mempool check as the last resort.
type NetworkBroadcaster struct {
	sign     SignFunc
	electrum ElectrumConfig
	apiBase  string
	client   *http.Client
}

// NewNetworkBroadcaster wires a broadcaster. apiBase is the mempool.space
// API base URL.
func NewNetworkBroadcaster(sign SignFunc, cfg ElectrumConfig, apiBase string) *NetworkBroadcaster {
	return &NetworkBroadcaster{
		sign:     sign,
		electrum: cfg,
		apiBase:  apiBase,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *NetworkBroadcaster) newElectrumClient(ctx context.Context) (*electrum.Client, error) {
	if b.electrum.UseSSL {
		return electrum.NewClientSSL(ctx, b.electrum.ServerAddr, nil)
	}
	return electrum.NewClientTCP(ctx, b.electrum.ServerAddr)
}

// Broadcast signs the draft and pushes it to the network. The returned hash
// is the signed transaction's txid.
func (b *NetworkBroadcaster) Broadcast(ctx context.Context, snap Snapshot) (chainhash.Hash, error) {
	if b.sign == nil {
		return chainhash.Hash{}, &FatalError{Reason: "no signer configured"}
	}
	tx, err := b.sign(ctx, snap)
	if err != nil {
		return chainhash.Hash{}, &FatalError{Reason: fmt.Sprintf("signing failed: %v", err)}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return chainhash.Hash{}, fmt.Errorf("failed to serialize transaction: %v", err)
	}
	txHex := hex.EncodeToString(buf.Bytes())
	txHash := tx.TxHash()

	// Electrum server first.
	if b.electrum.ServerAddr != "" {
		if client, err := b.newElectrumClient(ctx); err == nil {
			ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, berr := client.BroadcastTransaction(ectx, txHex)
			cancel()
			if berr == nil {
				log.Printf("Transaction broadcast via Electrum server %s", b.electrum.ServerAddr)
				return txHash, nil
			}
			log.Printf("Electrum broadcast failed: %v. Trying REST APIs...", berr)
		} else {
			log.Printf("Electrum connect failed: %v. Trying REST APIs...", err)
		}
	}

	apiErr := b.broadcastMultiAPI(ctx, txHex)
	if apiErr == nil {
		return txHash, nil
	}
	log.Printf("All API broadcasts failed: %v", apiErr)

	// The push may have landed despite an error response; check before
	// reporting failure.
	time.Sleep(5 * time.Second)
	inMempool, err := b.verifyInMempool(ctx, txHash)
	if err == nil && inMempool {
		log.Printf("Transaction found in mempool despite broadcast failures")
		return txHash, nil
	}

	return chainhash.Hash{}, fmt.Errorf("all broadcast attempts failed and transaction not found in mempool")
}

func (b *NetworkBroadcaster) broadcastMultiAPI(ctx context.Context, txHex string) error {
	err := b.broadcastToAPI(ctx, b.apiBase+"/api/tx", txHex, "text/plain")
	if err == nil {
		return nil
	}
	log.Printf("mempool.space broadcast failed: %v. Trying BlockCypher...", err)

	jsonBytes, merr := json.Marshal(map[string]string{"tx": txHex})
	if merr != nil {
		return fmt.Errorf("failed to marshal JSON: %v", merr)
	}
	err = b.broadcastToAPI(ctx, "https://api.blockcypher.com/v1/btc/main/txs/push",
		string(jsonBytes), "application/json")
	if err == nil {
		return nil
	}
	log.Printf("BlockCypher broadcast failed: %v. Trying Blockstream...", err)

	err = b.broadcastToAPI(ctx, "https://blockstream.info/api/tx", txHex, "text/plain")
	if err == nil {
		return nil
	}
	log.Printf("Blockstream broadcast failed: %v", err)

	return fmt.Errorf("all API broadcasts failed")
}

func (b *NetworkBroadcaster) broadcastToAPI(ctx context.Context, url, data, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBufferString(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		log.Printf("Transaction broadcast successfully via %s. Response: %s", url, string(body))
		return nil
	}
	return fmt.Errorf("API returned non-200 status code: %d, Body: %s", resp.StatusCode, string(body))
}

func (b *NetworkBroadcaster) verifyInMempool(ctx context.Context, txHash chainhash.Hash) (bool, error) {
	if b.electrum.ServerAddr == "" {
		return false, fmt.Errorf("no electrum server configured")
	}
	client, err := b.newElectrumClient(ctx)
	if err != nil {
		return false, fmt.Errorf("error connecting to Electrum: %v", err)
	}
	ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tx, err := client.GetRawTransaction(ectx, txHash.String())
	if err != nil {
		return false, fmt.Errorf("error checking Electrum mempool: %v", err)
	}
	return tx != "", nil
}
