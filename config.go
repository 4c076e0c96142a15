package coinledger

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the run configuration, one TOML file per tax-year run.
type Config struct {
	RatesDB string `toml:"rates_db"`
	Network string `toml:"network"` // mainnet or testnet

	Exchanges []ExchangeConfig `toml:"exchange"`
	Wallets   []WalletConfig   `toml:"wallet"`

	Tags           string `toml:"tags"`
	BasisOverrides string `toml:"basis_overrides"`

	CheckpointIn  string `toml:"checkpoint_in"`
	CheckpointOut string `toml:"checkpoint_out"`

	WorksheetDir    string `toml:"worksheet_dir"`
	WorksheetPrefix string `toml:"worksheet_prefix"`

	// Date of the Puerto Rico bona-fide-residency election, YYYY-MM-DD.
	// Empty disables the sourcing split.
	ResidencyStart string `toml:"bona_fide_residency_start"`

	// Preference order for covering realized margin losses.
	CollateralPreference []string `toml:"collateral_preference"`

	Backend BackendConfig `toml:"backend"`
}

// ExchangeConfig names one exchange account and its export files.
type ExchangeConfig struct {
	ID      string   `toml:"id"`
	Ledgers []string `toml:"ledgers"`
	Trades  []string `toml:"trades"`
}

// WalletConfig names one wallet, its history export format and the
// addresses it controls.
type WalletConfig struct {
	ID        string   `toml:"id"`
	Format    string   `toml:"format"` // electrum, ledgerlive, generic
	Histories []string `toml:"histories"`
	Addresses []string `toml:"addresses"`
}

// BackendConfig selects the blockchain client: an Esplora HTTP API (the
// default) or a bitcoind JSON-RPC node. The password may be left empty in
// the file and supplied through COINLEDGER_BACKEND_PASSWORD.
type BackendConfig struct {
	Kind     string `toml:"kind"` // esplora or bitcoind
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	CacheDir string `toml:"cache_dir"`
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.WorksheetPrefix == "" {
		cfg.WorksheetPrefix = "8949-"
	}
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}
	if cfg.Backend.Password == "" {
		cfg.Backend.Password = os.Getenv("COINLEDGER_BACKEND_PASSWORD")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for _, ex := range c.Exchanges {
		if ex.ID == "" {
			return fmt.Errorf("%w: exchange without an id", ErrParse)
		}
		if seen[ex.ID] {
			return fmt.Errorf("%w: duplicate account id %q", ErrParse, ex.ID)
		}
		seen[ex.ID] = true
	}
	for _, w := range c.Wallets {
		if w.ID == "" {
			return fmt.Errorf("%w: wallet without an id", ErrParse)
		}
		if seen[w.ID] {
			return fmt.Errorf("%w: duplicate account id %q", ErrParse, w.ID)
		}
		seen[w.ID] = true
	}
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("%w: unknown network %q", ErrParse, c.Network)
	}
	switch c.Backend.Kind {
	case "", "esplora":
	case "bitcoind":
		if c.Backend.URL == "" {
			return fmt.Errorf("%w: bitcoind backend needs a url", ErrParse)
		}
	default:
		return fmt.Errorf("%w: unknown backend kind %q", ErrParse, c.Backend.Kind)
	}
	if _, err := c.Residency(); err != nil {
		return err
	}
	if _, err := c.Collateral(); err != nil {
		return err
	}
	return nil
}

// Residency parses the bona-fide-residency start date. Zero when unset.
func (c *Config) Residency() (time.Time, error) {
	if c.ResidencyStart == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.ResidencyStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad bona_fide_residency_start %q", ErrParse, c.ResidencyStart)
	}
	return t.UTC(), nil
}

// Collateral parses the margin-loss preference order. Nil when unset,
// which selects the engine default.
func (c *Config) Collateral() ([]Asset, error) {
	if len(c.CollateralPreference) == 0 {
		return nil, nil
	}
	out := make([]Asset, 0, len(c.CollateralPreference))
	for _, code := range c.CollateralPreference {
		a, err := ParseAsset(code)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Ownership builds the address-to-wallet map from the declared addresses.
func (c *Config) Ownership() WalletOwnership {
	owners := make(WalletOwnership, len(c.Wallets))
	for _, w := range c.Wallets {
		addrs := make(map[string]bool, len(w.Addresses))
		for _, a := range w.Addresses {
			addrs[a] = true
		}
		owners[w.ID] = addrs
	}
	return owners
}
