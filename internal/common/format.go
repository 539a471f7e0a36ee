package common

import (
	"fmt"
	"strings"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	// Default separator widths
	DefaultWidth = 80
	WideWidth    = 100
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// PrintSeparator prints a separator line with the specified character and width
func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// BoxPrefix returns the appropriate box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// FormatToken renders a stablecoin amount at its full precision, e.g. "99.600000 USDC"
func FormatToken(amount decimal.Decimal, token models.Stablecoin) string {
	return fmt.Sprintf("%s %s", amount.StringFixed(models.TokenPlaces), token)
}

// FormatFiat renders a fiat amount in cents, e.g. "1500.00 GHS"
func FormatFiat(amount decimal.Decimal, currency models.FiatCurrency) string {
	return fmt.Sprintf("%s %s", amount.StringFixed(models.FiatPlaces), currency)
}

// FormatStatus colors a deposit status for terminal output
func FormatStatus(status models.DepositStatus) string {
	color := colorYellow
	switch status {
	case models.DepositConverted:
		color = colorGreen
	case models.DepositFailed:
		color = colorRed
	}
	return color + string(status) + colorReset
}

// PrintConversion prints a conversion outcome as a box-drawn summary
func PrintConversion(result *models.ConversionResponse) {
	d := result.Deposit
	fmt.Printf("Deposit %s  %s  %s\n", d.Id, FormatFiat(d.Amount, d.Currency), FormatStatus(d.Status))

	lines := []string{fmt.Sprintf("user %s via %s, attempt %d", d.UserId, d.PaymentMethod, d.Attempts)}
	if t := result.FxTrade; t != nil {
		lines = append(lines, fmt.Sprintf("fx %s -> %s @ %s (%d bps) ref %s",
			FormatFiat(t.AmountIn, t.FromCurrency), FormatFiat(t.AmountReceived, t.ToCurrency),
			t.EffectiveRate.String(), t.SpreadBps, t.PartnerRef))
	}
	if m := result.Mint; m != nil {
		lines = append(lines, fmt.Sprintf("mint %s %s tx %s", FormatToken(m.Amount, m.Stablecoin), m.Status, m.ProviderTxId))
	}
	if result.Error != "" {
		lines = append(lines, colorRed+"error: "+result.Error+colorReset)
	}

	for i, line := range lines {
		fmt.Println(BoxPrefix(i == len(lines)-1) + line)
	}
}
