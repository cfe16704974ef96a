package infra

import (
	"fmt"

	"crypto_feed/internal/domain"
)

// NewSymbolResolver returns a resolver backed by the config symbol map.
// Lookup order: "<exchange>:<symbol>", then the bare native symbol. An
// unmapped symbol is published under its native name.
func NewSymbolResolver(symbols map[string]string) domain.SymbolResolver {
	return func(group domain.Group, cfg domain.ConnectorConfig) (string, error) {
		if cfg.Symbol == "" {
			return "", fmt.Errorf("%w: empty symbol for %s %s", domain.ErrInvalidSymbol, cfg.Exchange, group)
		}
		if s, ok := symbols[cfg.Key()]; ok && s != "" {
			return s, nil
		}
		if s, ok := symbols[cfg.Symbol]; ok && s != "" {
			return s, nil
		}
		return cfg.Symbol, nil
	}
}
