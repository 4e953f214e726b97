package config

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig collects everything the server needs at startup. Values come
// from an optional YAML file (CHESSWEB_CONFIG) overridden by environment
// variables.
type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	EnginePath       string   `yaml:"engine_path"`
	EngineCandidates []string `yaml:"engine_candidates"`
	EngineHashMB     int      `yaml:"engine_hash_mb"`
	EngineThreads    int      `yaml:"engine_threads"`

	DefaultSkillLevel    int     `yaml:"default_skill_level"`
	DefaultTimeBudgetSec float64 `yaml:"default_time_budget_sec"`

	RedisURL     string `yaml:"redis_url"`
	DatabaseURL  string `yaml:"database_url"`
	HistoryLimit int    `yaml:"history_limit"`
}

var defaultEngineCandidates = []string{
	"stockfish",
	"/usr/local/bin/stockfish",
	"/usr/bin/stockfish",
	"/opt/homebrew/bin/stockfish",
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:           ":5000",
		EngineHashMB:         64,
		EngineThreads:        1,
		DefaultSkillLevel:    15,
		DefaultTimeBudgetSec: 2.0,
		HistoryLimit:         20,
	}

	if path := strings.TrimSpace(os.Getenv("CHESSWEB_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if len(cfg.EngineCandidates) == 0 {
		cfg.EngineCandidates = append([]string(nil), defaultEngineCandidates...)
	}
	if cfg.DefaultSkillLevel < 0 || cfg.DefaultSkillLevel > 20 {
		return nil, fmt.Errorf("default skill level %d out of range 0-20", cfg.DefaultSkillLevel)
	}
	if cfg.DefaultTimeBudgetSec <= 0.1 || cfg.DefaultTimeBudgetSec > 60 {
		return nil, fmt.Errorf("default time budget %.2fs out of range (0.1, 60]", cfg.DefaultTimeBudgetSec)
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_PATH")); v != "" {
		cfg.EnginePath = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_CANDIDATES")); v != "" {
		cfg.EngineCandidates = cfg.EngineCandidates[:0]
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.EngineCandidates = append(cfg.EngineCandidates, s)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_HASH_MB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineHashMB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_SKILL_LEVEL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultSkillLevel = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_TIME_BUDGET_SEC")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DefaultTimeBudgetSec = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("HISTORY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryLimit = n
		}
	}
}

// ResolveEnginePath picks the engine binary once at startup. An explicit
// EnginePath wins; otherwise the candidate list is probed in order, with a
// PATH lookup as the final fallback. Returns "" with an error when nothing
// usable is found; callers degrade to engine-not-ready rather than failing.
func (c *AppConfig) ResolveEnginePath() (string, error) {
	if p := strings.TrimSpace(c.EnginePath); p != "" {
		if isExecutable(p) {
			return p, nil
		}
		return "", fmt.Errorf("engine binary %s is not executable", p)
	}
	for _, cand := range c.EngineCandidates {
		if strings.ContainsRune(cand, os.PathSeparator) {
			if isExecutable(cand) {
				return cand, nil
			}
			continue
		}
		if found, err := exec.LookPath(cand); err == nil {
			return found, nil
		}
	}
	return "", fmt.Errorf("no engine binary found among %d candidates", len(c.EngineCandidates))
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
