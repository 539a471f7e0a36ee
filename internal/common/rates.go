package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"deposit-convert-go/internal/fx"
	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type RateConfig struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Mid       string `yaml:"mid"`
	SpreadBps int    `yaml:"spreadBps"`
}

type RatesConfig struct {
	Rates []RateConfig `yaml:"rates"`
}

func resolvePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(wd, file), nil
}

// LoadRateTable reads simulated FX rates that override the built-in table
func LoadRateTable(ratesFile string) (fx.RateTable, error) {
	ratesPath, err := resolvePath(ratesFile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(ratesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", ratesFile, err)
	}

	var config RatesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", ratesFile, err)
	}

	table := make(fx.RateTable, len(config.Rates))
	for i, rate := range config.Rates {
		if rate.From == "" || rate.To == "" {
			return nil, fmt.Errorf("rate at index %d missing currency pair", i)
		}
		mid, err := decimal.NewFromString(rate.Mid)
		if err != nil {
			return nil, fmt.Errorf("rate at index %d has invalid mid %q: %w", i, rate.Mid, err)
		}
		pair := fx.Pair{From: models.FiatCurrency(rate.From), To: models.FiatCurrency(rate.To)}
		table[pair] = fx.Rate{Mid: mid, SpreadBps: rate.SpreadBps}
	}

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rates in %s: %w", ratesFile, err)
	}
	return table, nil
}

// WriteRateTable stores a rate table in the format LoadRateTable reads
func WriteRateTable(ratesFile string, table fx.RateTable) error {
	ratesPath, err := resolvePath(ratesFile)
	if err != nil {
		return err
	}

	config := RatesConfig{Rates: make([]RateConfig, 0, len(table))}
	for pair, rate := range table {
		config.Rates = append(config.Rates, RateConfig{
			From:      string(pair.From),
			To:        string(pair.To),
			Mid:       rate.Mid.String(),
			SpreadBps: rate.SpreadBps,
		})
	}
	sort.Slice(config.Rates, func(i, j int) bool {
		if config.Rates[i].From == config.Rates[j].From {
			return config.Rates[i].To < config.Rates[j].To
		}
		return config.Rates[i].From < config.Rates[j].From
	})

	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("unable to encode rates: %w", err)
	}
	if err := os.WriteFile(ratesPath, data, 0o644); err != nil {
		return fmt.Errorf("unable to write %s: %w", ratesFile, err)
	}
	return nil
}
