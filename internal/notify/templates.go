package notify

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"date": func(o order.Order) string {
		return o.EstimatedDate.Format("Mon, 02 Jan 2006")
	},
	"lineTotal": func(it order.Item) string {
		return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).StringFixed(2)
	},
}

const confirmationBody = `Hi {{ with .Address.FullName }}{{ . }}{{ else }}there{{ end }},

Thank you for your order {{ .ID }}. We have received it and are getting it ready.

{{ range .Items -}}
  {{ .Quantity }} x {{ .Name }}  {{ lineTotal . }}
{{ end }}
Item total:  {{ money .Amounts.ItemTotal }}
Shipping:    {{ money .Amounts.ShippingCharge }}
Sales tax:   {{ money .Amounts.SalesTax }}
{{- if .Coupon }}
Coupon {{ .Coupon.Code }}: -{{ money .Amounts.CouponDiscount }}
{{- end }}
Total:       {{ money .Amounts.Total }}

Payment: {{ .Payment.Method }}{{ if .Payment.Confirmed }} (paid){{ end }}
Estimated delivery: {{ date . }}

Delivering to: {{ .Address.Text }}
`

const statusBody = `Hi {{ with .Address.FullName }}{{ . }}{{ else }}there{{ end }},

Your order {{ .ID }} is now {{ .Status }}.
{{- if .ShippedDate }}
Shipped on: {{ .ShippedDate.Format "02 Jan 2006" }}
{{- end }}
{{- if .DeliveredDate }}
Delivered on: {{ .DeliveredDate.Format "02 Jan 2006" }}
{{- end }}
{{- if .CancelledDate }}
Cancelled on: {{ .CancelledDate.Format "02 Jan 2006" }}
{{- end }}

Order total: {{ money .Amounts.Total }}
`

type kindTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Templates renders notifications into messages.
type Templates struct {
	kinds map[order.NotificationKind]kindTemplate
}

// DefaultTemplates returns the built-in order templates.
func DefaultTemplates() *Templates {
	return &Templates{kinds: map[order.NotificationKind]kindTemplate{
		order.NotifyOrderConfirmation: {
			subject: template.Must(template.New("subject").Parse(`Order {{ .ID }} confirmed`)),
			body:    template.Must(template.New("body").Funcs(funcs).Parse(confirmationBody)),
		},
		order.NotifyOrderStatus: {
			subject: template.Must(template.New("subject").Parse(`Order {{ .ID }} is {{ .Status }}`)),
			body:    template.Must(template.New("body").Funcs(funcs).Parse(statusBody)),
		},
	}}
}

// Render builds the message for n.
func (t *Templates) Render(n order.Notification) (Message, error) {
	if strings.TrimSpace(n.To) == "" {
		return Message{}, ErrNoRecipient
	}
	kt, ok := t.kinds[n.Kind]
	if !ok {
		return Message{}, errors.Errorf("no template for %q", n.Kind)
	}

	var subject, body bytes.Buffer
	if err := kt.subject.Execute(&subject, n.Order); err != nil {
		return Message{}, errors.Wrap(err, "render subject")
	}
	if err := kt.body.Execute(&body, n.Order); err != nil {
		return Message{}, errors.Wrap(err, "render body")
	}
	return Message{
		To:      strings.TrimSpace(n.To),
		Subject: subject.String(),
		Body:    body.String(),
		Kind:    n.Kind,
		OrderID: n.Order.ID,
	}, nil
}
