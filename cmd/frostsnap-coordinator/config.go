package main

import (
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"gopkg.in/yaml.v3"
)

// Config is the CLI host's configuration, decoded from a YAML file and then
// overridden by cobra persistent flags. The engine itself reads none of
// these -- per SPEC_FULL.md's ambient stack section, only the host cares
// about network selection, transport, and storage location.
type Config struct {
	Network      string `yaml:"network"`
	ElectrumURL  string `yaml:"electrum_url"`
	SerialDevice string `yaml:"serial_device"`
	StorePath    string `yaml:"store_path"`
}

func defaultConfig() Config {
	return Config{
		Network:   "bitcoin",
		StorePath: "frostsnap-coordinator.log",
	}
}

// loadConfig reads path if it exists, falling back to defaultConfig() if
// path is empty or absent. A present-but-unreadable file is an error: a
// typo'd --config path should not silently fall back to defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// chainParams maps the config's network name to the btcd params value
// every Bitcoin-facing package in this module (tweak, signtask, coordinator)
// expects.
func (c Config) chainParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "bitcoin", "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, &unknownNetworkError{Network: c.Network}
	}
}

type unknownNetworkError struct{ Network string }

func (e *unknownNetworkError) Error() string {
	return "unknown network: " + e.Network
}
