package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a marketplace notification.
type EventType string

const (
	EventCollectionConfigured EventType = "collection_configured"
	EventCollectionDisabled   EventType = "collection_disabled"
	EventTokenOffered         EventType = "token_offered"
	EventTokenNoLongerForSale EventType = "token_no_longer_for_sale"
	EventTokenBidEntered      EventType = "token_bid_entered"
	EventTokenBidWithdrawn    EventType = "token_bid_withdrawn"
	EventTokenTransfer        EventType = "token_transfer"
	EventTokenBought          EventType = "token_bought"
	EventBalanceWithdrawn     EventType = "balance_withdrawn"
)

// Event is one notification produced by a committed operation. Fields that do
// not apply to a given type are left zero.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Collection     common.Address `json:"collection"`
	TokenID        *big.Int       `json:"token_id,omitempty"`
	From           common.Address `json:"from"`
	To             common.Address `json:"to"`
	Value          *big.Int       `json:"value,omitempty"`
	RoyaltyPercent uint8          `json:"royalty_percent,omitempty"`
	MetadataURI    string         `json:"metadata_uri,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
