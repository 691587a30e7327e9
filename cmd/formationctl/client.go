package main

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cuemby/formation/pkg/auth"
)

type envelope struct {
	Success json.RawMessage `json:"Success"`
	Failure *struct {
		Reason string `json:"reason"`
	} `json:"Failure"`
}

// call issues a request against the formationd state API and decodes the
// {"Success":...}/{"Failure":{"reason":...}} envelope every handler writes.
// When sign is true the request body is signed with --secret-key the same
// way cmd/formationd's own bootstrap client signs its join request.
func call(method, path string, body any, sign bool) (json.RawMessage, error) {
	var reader io.Reader
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", stateAddr, path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if sign {
		priv, err := loadSecretKey()
		if err != nil {
			return nil, err
		}
		message := fmt.Sprintf("formationctl:%d", time.Now().Unix())
		header, err := auth.BuildHeader(priv, []byte(message))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", header)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if env.Failure != nil {
		return nil, fmt.Errorf("%s", env.Failure.Reason)
	}
	return env.Success, nil
}

func loadSecretKey() (*ecdsa.PrivateKey, error) {
	if secretHex == "" {
		return nil, fmt.Errorf("--secret-key (or FORMATION_SECRET_KEY) is required for this command")
	}
	return crypto.HexToECDSA(strings.TrimPrefix(secretHex, "0x"))
}

func addressFromKey(priv *ecdsa.PrivateKey) auth.Address {
	return auth.AddressFromPrivate(priv)
}

func printJSON(v json.RawMessage) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, v, "", "  "); err != nil {
		fmt.Println(string(v))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
