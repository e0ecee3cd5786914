package httpgate

import (
	"fmt"
	"html"
	"strings"

	x402gate "github.com/x402gate/x402gate"
)

// Paywall renders a minimal browser-facing HTML page for a 402 response.
// It is entirely separate from the JSON contract ResourceServerCore
// speaks — a resource server that never installs one just returns JSON
// to browsers like any other client.
type Paywall struct {
	Title string
}

func NewPaywall(title string) *Paywall {
	if title == "" {
		title = "Payment Required"
	}
	return &Paywall{Title: title}
}

// Render builds a simple paywall page listing the accepted payment
// options, escaping every interpolated value.
func (p *Paywall) Render(required x402gate.PaymentRequired) string {
	var rows strings.Builder
	for _, req := range required.Accepts {
		rows.WriteString(fmt.Sprintf(
			"<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(req.Scheme),
			html.EscapeString(string(req.Network)),
			html.EscapeString(req.Amount),
			html.EscapeString(req.Asset),
		))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
<table border="1">
<tr><th>Scheme</th><th>Network</th><th>Amount</th><th>Asset</th></tr>
%s</table>
</body>
</html>`,
		html.EscapeString(p.Title),
		html.EscapeString(p.Title),
		html.EscapeString(required.Error),
		rows.String(),
	)
}
