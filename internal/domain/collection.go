package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxRoyaltyPercent is the upper bound accepted for Collection.RoyaltyPercent.
const MaxRoyaltyPercent = 100

// Collection is the per-registry marketplace configuration. A collection that
// has never been configured, or has been disabled, is the zero record with
// Enabled == false.
type Collection struct {
	Address        common.Address `json:"address"`
	Enabled        bool           `json:"enabled"`
	RoyaltyPercent uint8          `json:"royalty_percent"`
	MetadataURI    string         `json:"metadata_uri"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DisabledCollection returns the zeroed record stored when a collection is
// disabled.
func DisabledCollection(addr common.Address) Collection {
	return Collection{Address: addr}
}
