package market

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// descFile is the on-disk shape of an index description.
type descFile struct {
	Market struct {
		Name      string `yaml:"name"`
		OpenTime  string `yaml:"open_time"`
		CloseTime string `yaml:"close_time"`
		Currency  string `yaml:"currency"`
	} `yaml:"market"`
	Companies []Company `yaml:"companies"`
}

// Load reads an index description from a YAML file.
func Load(path string) (*Market, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market description: %w", err)
	}
	var desc descFile
	if err := yaml.Unmarshal(b, &desc); err != nil {
		return nil, fmt.Errorf("parse market description: %w", err)
	}
	if desc.Market.Name == "" {
		return nil, fmt.Errorf("market description %s: missing market name", path)
	}
	for i, c := range desc.Companies {
		if c.Ticker == "" || c.Name == "" || c.ISIN == "" {
			return nil, fmt.Errorf("market description %s: company %d needs ticker, name and isin", path, i)
		}
	}
	return New(desc.Market.Name, desc.Market.OpenTime, desc.Market.CloseTime, desc.Market.Currency, desc.Companies), nil
}
