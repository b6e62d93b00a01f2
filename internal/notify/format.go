package notify

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// FormatEvent renders a human-readable title and body for evt.
func FormatEvent(evt domain.Event) (title, message string) {
	item := fmt.Sprintf("%s #%s", short(evt.Collection), evt.TokenID)

	switch evt.Type {
	case domain.EventTokenBought:
		return "Item sold", fmt.Sprintf("%s sold by %s to %s for %s",
			item, short(evt.From), short(evt.To), FormatAmount(evt.Value))
	case domain.EventTokenOffered:
		return "Item listed", fmt.Sprintf("%s listed by %s at %s",
			item, short(evt.From), FormatAmount(evt.Value))
	case domain.EventTokenNoLongerForSale:
		return "Listing removed", item + " is no longer for sale"
	case domain.EventTokenBidEntered:
		return "Bid entered", fmt.Sprintf("%s bid %s on %s",
			short(evt.From), FormatAmount(evt.Value), item)
	case domain.EventTokenBidWithdrawn:
		return "Bid withdrawn", fmt.Sprintf("%s withdrew a bid of %s on %s",
			short(evt.From), FormatAmount(evt.Value), item)
	case domain.EventTokenTransfer:
		return "Item transferred", fmt.Sprintf("%s moved from %s to %s",
			item, short(evt.From), short(evt.To))
	case domain.EventCollectionConfigured:
		msg := fmt.Sprintf("%s enabled with %d%% royalty", short(evt.Collection), evt.RoyaltyPercent)
		if evt.MetadataURI != "" {
			msg += "\n" + evt.MetadataURI
		}
		return "Collection configured", msg
	case domain.EventCollectionDisabled:
		return "Collection disabled", short(evt.Collection) + " no longer trades"
	case domain.EventBalanceWithdrawn:
		return "Balance withdrawn", fmt.Sprintf("%s withdrew %s",
			short(evt.To), FormatAmount(evt.Value))
	default:
		return string(evt.Type), item
	}
}

// FormatAmount renders a wei amount in ether with trailing zeros trimmed.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0 ETH"
	}
	q, r := new(big.Int).QuoRem(v, big.NewInt(params.Ether), new(big.Int))
	if r.Sign() == 0 {
		return q.String() + " ETH"
	}
	digits := r.String()
	frac := strings.TrimRight(strings.Repeat("0", 18-len(digits))+digits, "0")
	return fmt.Sprintf("%s.%s ETH", q, frac)
}

func short(a common.Address) string {
	h := strings.ToLower(a.Hex())
	return h[:6] + "…" + h[len(h)-4:]
}
