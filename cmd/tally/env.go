package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hedeqiang/tally/scanner"
)

// config is the CLI configuration read from the environment.
type config struct {
	RPCURL        string
	PrimaryClient string
	Network       string

	Contract   string
	StartBlock *uint64
	EndBlock   *uint64

	// FromBlocks, when set, starts the scan that many blocks back from head.
	FromBlocks uint64

	WindowSize       uint64
	MinWindow        uint64
	ErrorFloor       uint64
	RateLimitRetries int
	RateLimitBackoff time.Duration

	ExplorerKey     string
	ExplorerAPI     string
	ExplorerChainID uint64
	ExplorerWindow  uint64
	// ExplorerPace is the minimum gap between explorer requests.
	ExplorerPace time.Duration

	EventSignature    string
	ABIPath           string
	HasStartTime      bool
	ResolveTimestamps bool

	ResultsDB   string
	MetricsAddr string
	LogLevel    string
	Output      string
}

// loadDotEnv reads path into the environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the configuration from environment variables.
func loadConfig() (config, error) {
	var (
		cfg  config
		errs []error
	)
	p := parser{errs: &errs}

	cfg.RPCURL = getenv("RPC_URL", "")
	cfg.PrimaryClient = strings.ToLower(getenv("PRIMARY_CLIENT", "jsonrpc"))
	cfg.Network = strings.ToLower(getenv("NETWORK", "polygon"))

	cfg.Contract = getenv("PRESALE_ADDRESS", "")
	cfg.StartBlock = p.optNum("PRESALE_START_BLOCK")
	cfg.EndBlock = p.optNum("PRESALE_END_BLOCK")
	cfg.FromBlocks = p.num("FROM_BLOCKS", 0)

	sd := scanner.DefaultConfig()
	cfg.WindowSize = p.num("WINDOW_SIZE", sd.WindowSize)
	cfg.MinWindow = p.num("MIN_WINDOW", sd.MinWindow)
	cfg.ErrorFloor = p.num("ERROR_FLOOR", sd.ErrorFloor)
	cfg.RateLimitRetries = p.retries("RATE_LIMIT_RETRIES", sd.RateLimitRetries)
	cfg.RateLimitBackoff = p.duration("RATE_LIMIT_BACKOFF", sd.RateLimitBackoff)

	cfg.ExplorerKey = getenv("POLYGONSCAN_API_KEY", getenv("ETHERSCAN_API_KEY", ""))
	cfg.ExplorerAPI = getenv("POLYGONSCAN_API", "")
	cfg.ExplorerChainID = p.num("EXPLORER_CHAIN_ID", 0)
	cfg.ExplorerWindow = p.num("SCAN_WINDOW", 0)
	cfg.ExplorerPace = p.duration("EXPLORER_MIN_INTERVAL", 200*time.Millisecond)

	cfg.EventSignature = getenv("EVENT_SIGNATURE", "")
	cfg.ABIPath = getenv("ABI_PATH", "")
	cfg.HasStartTime = p.boolean("PRESALE_HAS_START_TIME", true)
	cfg.ResolveTimestamps = p.boolean("RESOLVE_TIMESTAMPS", false)

	cfg.ResultsDB = getenv("RESULTS_DB", "")
	cfg.MetricsAddr = getenv("METRICS_ADDR", "")
	cfg.LogLevel = strings.ToLower(getenv("LOG_LEVEL", "info"))
	cfg.Output = strings.ToLower(getenv("OUTPUT", "text"))

	return cfg, errors.Join(errs...)
}

// validate checks the settings that flags may have overridden.
func (c config) validate() error {
	var errs []error
	if c.Contract == "" {
		errs = append(errs, errors.New("PRESALE_ADDRESS is required"))
	}
	if c.RPCURL == "" && c.ExplorerKey == "" {
		errs = append(errs, errors.New("set RPC_URL or an explorer API key"))
	}
	switch c.PrimaryClient {
	case "jsonrpc", "geth":
	default:
		errs = append(errs, fmt.Errorf("PRIMARY_CLIENT: unknown client %q", c.PrimaryClient))
	}
	switch c.Output {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("OUTPUT: unknown format %q", c.Output))
	}
	return errors.Join(errs...)
}

// scannerConfig maps the window and rate-limit settings onto the scanner.
func (c config) scannerConfig() scanner.Config {
	return scanner.Config{
		WindowSize:       c.WindowSize,
		MinWindow:        c.MinWindow,
		ErrorFloor:       c.ErrorFloor,
		RateLimitRetries: c.RateLimitRetries,
		RateLimitBackoff: c.RateLimitBackoff,
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	errs *[]error
}

func (p parser) fail(key, v string, err error) {
	*p.errs = append(*p.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (p parser) num(key string, def uint64) uint64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

// retries reads a retry budget. An explicit 0 disables retries.
func (p parser) retries(key string, def int) int {
	n := p.num(key, uint64(def))
	if n == 0 {
		return -1
	}
	return int(n)
}

func (p parser) optNum(key string) *uint64 {
	v := getenv(key, "")
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return nil
	}
	return &n
}

func (p parser) boolean(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

// duration accepts Go durations ("15s") and bare seconds ("15").
func (p parser) duration(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseUint(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}
