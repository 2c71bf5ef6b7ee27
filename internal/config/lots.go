package config

import (
	"fmt"
	"os"

	"abada_sales/internal/model"

	"gopkg.in/yaml.v3"
)

type lotsFile struct {
	Lots []model.Lot `yaml:"lots"`
}

// LoadLots 读取价格批次配置（YAML）。
func LoadLots(path string) ([]model.Lot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseLots(raw)
}

func ParseLots(raw []byte) ([]model.Lot, error) {
	var f lotsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse lots: %w", err)
	}
	seen := make(map[string]bool, len(f.Lots))
	for i, l := range f.Lots {
		switch {
		case l.Name == "":
			return nil, fmt.Errorf("lot %d: name is required", i)
		case seen[l.Name]:
			return nil, fmt.Errorf("lot %q defined twice", l.Name)
		case l.PrimaryPrice < 0 || l.AddOnPrice < 0:
			return nil, fmt.Errorf("lot %q: prices must be >= 0", l.Name)
		case !l.EndsAt.After(l.StartsAt):
			return nil, fmt.Errorf("lot %q: ends_at must be after starts_at", l.Name)
		}
		seen[l.Name] = true
	}
	return f.Lots, nil
}
