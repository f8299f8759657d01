// Package rake computes the platform fee split for a settled pot.
package rake

// Config holds the process-wide rake parameters. It is built once at startup
// and treated as immutable afterwards. An empty WalletAddress disables rake
// entirely; that is a valid configuration, not an error.
type Config struct {
	WalletAddress string
	Percent       float64
	MinPotRaw     int64
}

// DefaultPercent is applied when no rake percentage is configured.
const DefaultPercent = 5.0

// Breakdown is the result of splitting a pot between the rake wallet and the
// winner. RakeRaw + WinnerPayoutRaw always equals the input pot.
type Breakdown struct {
	RakeRaw         int64
	WinnerPayoutRaw int64
	Enabled         bool
}

// Split divides totalPotRaw between rake and winner payout using integer
// arithmetic only. Amounts are raw token units; floating point never touches
// the amounts themselves, so repeated splits cannot drift.
func Split(totalPotRaw int64, cfg Config) Breakdown {
	if cfg.WalletAddress == "" || totalPotRaw < cfg.MinPotRaw || totalPotRaw <= 0 {
		return Breakdown{WinnerPayoutRaw: totalPotRaw}
	}

	pct := cfg.Percent
	if pct <= 0 {
		pct = DefaultPercent
	}

	// Convert the percentage to basis points before touching the pot so the
	// only division is integer division on raw units.
	bps := int64(pct * 100)
	rakeRaw := totalPotRaw * bps / 10000
	return Breakdown{
		RakeRaw:         rakeRaw,
		WinnerPayoutRaw: totalPotRaw - rakeRaw,
		Enabled:         true,
	}
}

// MaskedWallet returns the rake wallet address reduced to its first and last
// four characters for health summaries and logs.
func (c Config) MaskedWallet() string {
	if c.WalletAddress == "" {
		return ""
	}
	if len(c.WalletAddress) <= 8 {
		return c.WalletAddress
	}
	return c.WalletAddress[:4] + "..." + c.WalletAddress[len(c.WalletAddress)-4:]
}
