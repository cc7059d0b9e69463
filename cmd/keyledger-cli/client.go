package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ssd-technologies/keyledger/internal/auth"
	"github.com/ssd-technologies/keyledger/internal/registry"
)

// client talks to a keyledger server, signing requests when a key is set.
type client struct {
	base string
	key  ed25519.PrivateKey
	http *http.Client
}

func newClient(base string, key ed25519.PrivateKey) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		key:  key,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// identity returns the caller identity of the loaded key.
func (c *client) identity() string {
	return auth.IdentityFromPublicKey(c.key.Public().(ed25519.PublicKey))
}

// canonicalIdentity normalises a user-typed identity to the lowercase hex
// form the server accepts.
func canonicalIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// do sends a request and decodes a JSON response into out. payment is sent in
// X-Payment when non-zero. Requests are signed when the client holds a key.
func (c *client) do(method, path string, in any, payment uint64, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if payment > 0 {
		req.Header.Set("X-Payment", strconv.FormatUint(payment, 10))
	}
	if c.key != nil {
		auth.SignRequest(req, c.key, body)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// fees is the GET /api/fees response.
type fees struct {
	Owner              string `json:"owner"`
	BaseFee            uint64 `json:"base_fee"`
	BytesFeeMultiplier uint64 `json:"bytes_fee_multiplier"`
	GrantFee           uint64 `json:"grant_fee"`
	Balance            uint64 `json:"balance"`
	TotalAccessCount   uint64 `json:"total_access_count"`
}

func (c *client) fees() (*fees, error) {
	var f fees
	if err := c.do(http.MethodGet, "/api/fees", nil, 0, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// quote is the POST /api/fees/quote response.
type quote struct {
	CreationFee uint64 `json:"creation_fee"`
	GrantFee    uint64 `json:"grant_fee"`
}

func (c *client) quote(sizes []int) (*quote, error) {
	var q quote
	if err := c.do(http.MethodPost, "/api/fees/quote", map[string][]int{"sizes": sizes}, 0, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// accessKeys lists every key granted to identity.
func (c *client) accessKeys(identity string) ([]registry.AccessKey, error) {
	var resp struct {
		Keys []registry.AccessKey `json:"keys"`
	}
	if err := c.do(http.MethodGet, "/api/access/"+identity, nil, 0, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// loadKey reads a raw Ed25519 seed file written by keygen.
func loadKey(path string) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid key file: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// payloadSizes returns the billed field lengths of p in quote order.
func payloadSizes(p registry.Payload) []int {
	return []int{len(p.Ciphertext), len(p.EncryptedName), len(p.EncryptedFolder), len(p.EncryptedKind), len(p.IV)}
}
