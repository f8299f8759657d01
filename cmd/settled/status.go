package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lox/settled/internal/settlement"
)

// StatusCmd queries a running engine's ops server.
type StatusCmd struct {
	URL string `kong:"default='http://localhost:8090',help='Ops server base URL'"`
}

func (c *StatusCmd) Run() error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(c.URL + "/status")
	if err != nil {
		return fmt.Errorf("query %s: %w", c.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ops server returned status %d", resp.StatusCode)
	}

	var health settlement.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(health)
}
