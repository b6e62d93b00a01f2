package market

import "math/big"

// SplitRoyalty divides a sale amount between the collection's administrative
// owner and the seller. The owner's cut is amount / (100 / percent), with
// integer division at both steps, so percentages that do not divide 100
// evenly are rounded through the divisor (7% behaves like 1/14). A zero
// percent sends everything to the seller. The two cuts always sum to amount.
func SplitRoyalty(amount *big.Int, percent uint8) (ownerCut, sellerCut *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int), new(big.Int)
	}
	if percent == 0 || percent > 100 {
		return new(big.Int), new(big.Int).Set(amount)
	}

	divisor := big.NewInt(int64(100 / int(percent)))
	ownerCut = new(big.Int).Quo(amount, divisor)
	sellerCut = new(big.Int).Sub(amount, ownerCut)
	return ownerCut, sellerCut
}
