package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// Receipt — подтверждение заказа в HTML и текстовом виде.
type Receipt struct {
	Subject string
	HTML    string
	Text    string
}

const brandName = "EatOrbit"

var templateFuncs = map[string]any{
	"money":       FormatMoney,
	"ingredients": func(in []string) string { return strings.Join(in, ", ") },
	"date":        func(t time.Time) string { return t.Format("02 Jan 2006 15:04 MST") },
}

var receiptHTML = htmltemplate.Must(htmltemplate.New("receipt.html").Funcs(templateFuncs).Parse(`<html><body>
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 10px;">
<div style="text-align: center; border-bottom: 2px solid #ff7a00; padding-bottom: 20px; margin-bottom: 20px;">
<h2 style="color: #ff7a00; margin: 0;">{{.Brand}}</h2>
<p style="color: #666; margin: 5px 0;">Order Confirmation</p>
</div>
<p>Your order has been placed successfully! Here is your receipt.</p>
<div style="background-color: #f9f9f9; padding: 15px; border-radius: 5px; margin-bottom: 20px;">
<p><strong>Order Token:</strong> <span style="font-size: 1.2em; color: #ff7a00;">{{.Order.Token}}</span></p>
<p><strong>Outlet:</strong> {{.Order.OutletName}}</p>
<p><strong>Date:</strong> {{date .Order.CreatedAt}}</p>
</div>
<table style="width: 100%; border-collapse: collapse; margin-bottom: 20px;">
<tr style="background-color: #eee;"><th style="text-align: left;">Item</th><th>Qty</th><th style="text-align: right;">Price</th></tr>
{{- range .Order.Items}}
<tr><td>{{.FoodName}}{{if .SelectedIngredients}}<br><small style="color: #888;">{{ingredients .SelectedIngredients}}</small>{{end}}</td><td style="text-align: center;">{{.Qty}}</td><td style="text-align: right;">{{money .TotalMinor}}</td></tr>
{{- end}}
</table>
<div style="text-align: right; margin-top: 10px;"><h3 style="margin: 0;">Total Amount: {{money .Order.TotalMinor}}</h3></div>
<div style="text-align: center; margin-top: 30px; border-top: 1px solid #eee; padding-top: 20px; color: #888; font-size: 12px;">
<p>Thank you for choosing {{.Brand}}!</p>
</div>
</div>
</body></html>`))

var receiptText = texttemplate.Must(texttemplate.New("receipt.txt").Funcs(templateFuncs).Parse(`{{.Brand}} - Order Confirmation

Order Token: {{.Order.Token}}
Outlet: {{.Order.OutletName}}
Date: {{date .Order.CreatedAt}}
{{range .Order.Items}}
{{.Qty}} x {{.FoodName}}  {{money .TotalMinor}}{{if .SelectedIngredients}}
    {{ingredients .SelectedIngredients}}{{end}}{{end}}

Total Amount: {{money .Order.TotalMinor}}

Thank you for choosing {{.Brand}}!
`))

// RenderReceipt строит подтверждение для оформленного заказа.
func RenderReceipt(order domain.Order) (Receipt, error) {
	data := struct {
		Brand string
		Order domain.Order
	}{Brand: brandName, Order: order}

	var html, text bytes.Buffer
	if err := receiptHTML.Execute(&html, data); err != nil {
		return Receipt{}, fmt.Errorf("render html receipt: %w", err)
	}
	if err := receiptText.Execute(&text, data); err != nil {
		return Receipt{}, fmt.Errorf("render text receipt: %w", err)
	}

	return Receipt{
		Subject: "Order Confirmation - " + order.Token,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

// FormatMoney печатает сумму в минорных единицах как рупии с двумя знаками.
func FormatMoney(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, minor/100, minor%100)
}
