// Package pagination normalizes page sizes and encodes opaque page tokens
// for list endpoints.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	size := value
	if size <= 0 {
		size = cfg.Default
	}
	if cfg.Max > 0 && size > cfg.Max {
		size = cfg.Max
	}
	return max(size, 1)
}

// EncodeToken turns a row offset into an opaque page token. Offset zero
// yields the empty token.
func EncodeToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte("o" + strconv.Itoa(offset)))
}

// DecodeToken reverses EncodeToken. The empty token is offset zero.
func DecodeToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < 2 || raw[0] != 'o' {
		return 0, fmt.Errorf("invalid page token")
	}
	offset, err := strconv.Atoi(string(raw[1:]))
	if err != nil || offset <= 0 {
		return 0, fmt.Errorf("invalid page token")
	}
	return offset, nil
}
