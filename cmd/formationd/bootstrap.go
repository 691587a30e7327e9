package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/config"
	"github.com/cuemby/formation/pkg/overlay"
	"github.com/cuemby/formation/pkg/state"
)

// bootstrapOrJoin synthesizes genesis records when no peer is configured,
// or otherwise pulls the full replicated snapshot from the first reachable
// bootstrap node and registers this node as a peer against it.
func bootstrapOrJoin(store *state.Store, cfg *config.Config, wgKey wgtypes.Key, externalEndpoint, internalEndpoint string, nodeKey *ecdsa.PrivateKey) error {
	if len(cfg.BootstrapNodes) == 0 {
		return store.Bootstrap(wgKey.PublicKey().String(), externalEndpoint)
	}

	var lastErr error
	for _, addr := range cfg.BootstrapNodes {
		full, err := fetchFullState(addr)
		if err != nil {
			lastErr = err
			continue
		}
		if err := store.LoadFullState(full); err != nil {
			return fmt.Errorf("loading bootstrap snapshot from %s: %w", addr, err)
		}
		if err := joinViaPeer(addr, wgKey, externalEndpoint, internalEndpoint, nodeKey); err != nil {
			return fmt.Errorf("join handshake with %s: %w", addr, err)
		}
		return nil
	}
	return fmt.Errorf("no bootstrap node reachable among %v: %w", cfg.BootstrapNodes, lastErr)
}

func fetchFullState(addr string) (state.FullState, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/bootstrap/full_state", addr))
	if err != nil {
		return state.FullState{}, err
	}
	defer resp.Body.Close()

	var env struct {
		Success state.FullState `json:"Success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return state.FullState{}, fmt.Errorf("decoding full state response: %w", err)
	}
	return env.Success, nil
}

// joinViaPeer performs the admin handshake from the new peer's side: sign a
// JoinRequest with this node's own key and POST it, the inverse of
// pkg/overlayapi's join handler. The returned InterfaceConfig names the
// assigned overlay address; actually installing it on the host interface is
// left to a platform-specific setup step, the same boundary pkg/overlay's
// Device draws around interface creation.
func joinViaPeer(addr string, wgKey wgtypes.Key, externalEndpoint, internalEndpoint string, nodeKey *ecdsa.PrivateKey) error {
	req := overlay.JoinRequest{
		PeerID:            string(auth.AddressFromPrivate(nodeKey)),
		PublicKey:         wgKey.PublicKey().String(),
		ReportedEndpoints: []string{externalEndpoint, internalEndpoint},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("JoinPeerRequest:%s:%d", req.PeerID, time.Now().Unix())
	header, err := auth.BuildHeader(nodeKey, []byte(message))
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/peer/join", addr), bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", header)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Success overlay.InterfaceConfig `json:"Success"`
		Failure *struct {
			Reason string `json:"reason"`
		} `json:"Failure"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding join response: %w", err)
	}
	if env.Failure != nil {
		return fmt.Errorf("join rejected: %s", env.Failure.Reason)
	}
	return nil
}
