// Package pagination normalizes list query parameters.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// OrderByConfig configures order_by validation.
type OrderByConfig struct {
	Default string
	Allowed []string
}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

// NormalizeOrderBy validates order_by and applies defaults.
func NormalizeOrderBy(orderBy string, cfg OrderByConfig) (string, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return cfg.Default, nil
	}
	for _, allowed := range cfg.Allowed {
		if orderBy == allowed {
			return orderBy, nil
		}
	}
	return "", fmt.Errorf("invalid order_by: %s", orderBy)
}

// FromQuery reads page_size and order_by from query.
func FromQuery(query url.Values, size PageSizeConfig, order OrderByConfig) (int, string, error) {
	var requested int
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0, "", fmt.Errorf("invalid page_size: %s", raw)
		}
		requested = value
	}
	orderBy, err := NormalizeOrderBy(query.Get("order_by"), order)
	if err != nil {
		return 0, "", err
	}
	return ClampPageSize(requested, size), orderBy, nil
}
