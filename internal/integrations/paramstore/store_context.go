package paramstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"storechat/internal/domain"
)

// LoadStoreInfo fetches and decodes the store context parameter stored as
// JSON under the "store-context" key. It is called once at startup; the
// decoded value is shared read-only for the process lifetime.
func LoadStoreInfo(ctx context.Context, g Getter) (domain.StoreInfo, error) {
	raw, err := g.Get(ctx, "store-context")
	if err != nil {
		return domain.StoreInfo{}, fmt.Errorf("paramstore: load store context: %w", err)
	}

	var info domain.StoreInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return domain.StoreInfo{}, fmt.Errorf("paramstore: decode store context: %w", err)
	}
	if strings.TrimSpace(info.Name) == "" {
		return domain.StoreInfo{}, fmt.Errorf("paramstore: store context has no name")
	}
	return info, nil
}
