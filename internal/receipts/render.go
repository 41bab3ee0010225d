package receipts

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
)

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string {
		return d.StringFixed(2) + " EUR"
	},
	"date": func(v any) string {
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format("2006-01-02 15:04 MST")
		case *time.Time:
			if t == nil {
				return ""
			}
			return t.UTC().Format("2006-01-02 15:04 MST")
		default:
			return ""
		}
	},
	"pad": func(width int, value string) string {
		if len(value) >= width {
			return value
		}
		return value + strings.Repeat(" ", width-len(value))
	},
}).Parse(`SOIHTUFEST STORE
Receipt no {{.ReceiptNumber}}
Order {{.OrderNumber}}
Date {{date .CreatedAt}}
{{if .PaidAt}}Paid {{date .PaidAt}}
{{end}}
Billed to:
  {{.Buyer.Name}}
  {{.Buyer.Street}}
  {{.Buyer.PostalCode}} {{.Buyer.City}}, {{.Buyer.Country}}
  {{.Buyer.Email}}

Order lines:
{{range .Lines}}  {{pad 40 .Description}} {{.Quantity}} x {{money .UnitPrice}} = {{money .LineTotal}}
{{end}}
Total: {{money .Total}}

You can review your order at any time:
{{.LookupURL}}

Thank you for your order!
`))

// Render produces the human-readable receipt document. The output is a pure
// function of the params so a stored receipt can be reproduced for audit.
func Render(params ReceiptParams) (string, error) {
	var b strings.Builder
	if err := receiptTemplate.Execute(&b, params); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render receipt")
	}
	return b.String(), nil
}

// Subject builds the receipt mail subject line.
func Subject(base string, receiptNumber int64) string {
	return fmt.Sprintf("%s #%d", base, receiptNumber)
}
