package trading

// Margin is the isolated collateral implied by a fill. Exchange wallet
// figures drift with floating PnL, so the ledger always derives margin here.
func Margin(entryPrice, quantity float64, leverage int) float64 {
	if entryPrice <= 0 || quantity <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	return entryPrice * quantity / float64(leverage)
}
