package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envPrefix    = "STRATSYNC_"
	envRPCPrefix = envPrefix + "RPC_"

	DefaultGasLimit   uint64 = 3_000_000
	DefaultListenAddr        = "127.0.0.1:8787"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	Timeout        string
	StrategiesPath string
	LogLevel       string
	NoJournal      bool
	EnableCommands string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	Timeout         time.Duration
	StrategiesPath  string
	JournalEnabled  bool
	JournalPath     string
	JournalLockPath string
	LogLevel        string
	LogFormat       string
	ListenAddr      string
	KeySource       string
	SpenderPolicy   string
	GasLimit        uint64
	WaitForReceipt  bool
	Simulate        bool
	// RPCURLs overrides the built-in endpoint per native chain id.
	RPCURLs map[int64]string
}

type fileConfig struct {
	Output         string   `yaml:"output"`
	Timeout        string   `yaml:"timeout"`
	StrategiesPath string   `yaml:"strategies_path"`
	EnableCommands []string `yaml:"enable_commands"`
	Log            struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Journal struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"journal"`
	Execution struct {
		KeySource      string           `yaml:"key_source"`
		Spender        string           `yaml:"spender"`
		GasLimit       *uint64          `yaml:"gas_limit"`
		WaitForReceipt *bool            `yaml:"wait_for_receipt"`
		Simulate       *bool            `yaml:"simulate"`
		RPC            map[int64]string `yaml:"rpc"`
	} `yaml:"execution"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.GasLimit == 0 {
		settings.GasLimit = DefaultGasLimit
	}
	return settings, validate(settings)
}

func defaultSettings() (Settings, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Timeout:         30 * time.Second,
		JournalEnabled:  true,
		JournalPath:     filepath.Join(dataDir, "journal.db"),
		JournalLockPath: filepath.Join(dataDir, "journal.lock"),
		LogLevel:        "info",
		LogFormat:       "text",
		ListenAddr:      DefaultListenAddr,
		KeySource:       "auto",
		SpenderPolicy:   "destination",
		GasLimit:        DefaultGasLimit,
		Simulate:        true,
		RPCURLs:         map[int64]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "stratsync", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "stratsync"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.StrategiesPath != "" {
		settings.StrategiesPath = cfg.StrategiesPath
	}
	if len(cfg.EnableCommands) > 0 {
		settings.EnableCommands = cfg.EnableCommands
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Journal.Enabled != nil {
		settings.JournalEnabled = *cfg.Journal.Enabled
	}
	if cfg.Journal.Path != "" {
		settings.JournalPath = cfg.Journal.Path
	}
	if cfg.Journal.LockPath != "" {
		settings.JournalLockPath = cfg.Journal.LockPath
	}
	if cfg.Execution.KeySource != "" {
		settings.KeySource = strings.ToLower(cfg.Execution.KeySource)
	}
	if cfg.Execution.Spender != "" {
		settings.SpenderPolicy = strings.ToLower(cfg.Execution.Spender)
	}
	if cfg.Execution.GasLimit != nil {
		settings.GasLimit = *cfg.Execution.GasLimit
	}
	if cfg.Execution.WaitForReceipt != nil {
		settings.WaitForReceipt = *cfg.Execution.WaitForReceipt
	}
	if cfg.Execution.Simulate != nil {
		settings.Simulate = *cfg.Execution.Simulate
	}
	for chainID, url := range cfg.Execution.RPC {
		if strings.TrimSpace(url) != "" {
			settings.RPCURLs[chainID] = strings.TrimSpace(url)
		}
	}
	if cfg.Server.Listen != "" {
		settings.ListenAddr = cfg.Server.Listen
	}
	return nil
}

func applyEnv(settings *Settings) error {
	if v := os.Getenv("STRATSYNC_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("STRATSYNC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("STRATSYNC_STRATEGIES_PATH"); v != "" {
		settings.StrategiesPath = v
	}
	if v := os.Getenv("STRATSYNC_ENABLE_COMMANDS"); v != "" {
		settings.EnableCommands = splitList(v)
	}
	if v := os.Getenv("STRATSYNC_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("STRATSYNC_LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("STRATSYNC_NO_JOURNAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.JournalEnabled = !b
		}
	}
	if v := os.Getenv("STRATSYNC_JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := os.Getenv("STRATSYNC_JOURNAL_LOCK_PATH"); v != "" {
		settings.JournalLockPath = v
	}
	if v := os.Getenv("STRATSYNC_LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("STRATSYNC_KEY_SOURCE"); v != "" {
		settings.KeySource = strings.ToLower(v)
	}
	if v := os.Getenv("STRATSYNC_SPENDER"); v != "" {
		settings.SpenderPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("STRATSYNC_GAS_LIMIT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			settings.GasLimit = n
		}
	}
	if v := os.Getenv("STRATSYNC_WAIT_RECEIPT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.WaitForReceipt = b
		}
	}
	if v := os.Getenv("STRATSYNC_SIMULATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Simulate = b
		}
	}
	// STRATSYNC_RPC_<chain id>=<url>
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envRPCPrefix) || strings.TrimSpace(value) == "" {
			continue
		}
		chainID, err := strconv.ParseInt(strings.TrimPrefix(name, envRPCPrefix), 10, 64)
		if err != nil || chainID <= 0 {
			return fmt.Errorf("invalid rpc override %s: expected %s<chain id>", name, envRPCPrefix)
		}
		settings.RPCURLs[chainID] = strings.TrimSpace(value)
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitList(flags.Select)
	}
	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitList(flags.EnableCommands)
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if strings.TrimSpace(flags.StrategiesPath) != "" {
		settings.StrategiesPath = strings.TrimSpace(flags.StrategiesPath)
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.ToLower(strings.TrimSpace(flags.LogLevel))
	}
	if flags.NoJournal {
		settings.JournalEnabled = false
	}
	return nil
}

func validate(settings Settings) error {
	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.LogFormat != "text" && settings.LogFormat != "json" {
		return fmt.Errorf("log format must be text or json")
	}
	if settings.SpenderPolicy != "destination" && settings.SpenderPolicy != "source" {
		return fmt.Errorf("spender must be destination or source")
	}
	return nil
}

func splitList(v string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
