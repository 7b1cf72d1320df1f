package service

import (
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/pricing"
)

var reminderTemplate = template.Must(template.New("reminder").Parse(
	`Hello {{.Customer}},

This is a friendly reminder that installment #{{.Number}} for your {{.Item}} is due on {{.DueDate}}, for an amount of ${{.Amount}} USD.

Paying on time keeps your credit in good standing. Thank you for your trust!`))

var overdueTemplate = template.Must(template.New("overdue").Parse(
	`Hello {{.Customer}},

Installment #{{.Number}} for your {{.Item}} was due on {{.DueDate}} and is {{.DaysLate}} day{{if ne .DaysLate 1}}s{{end}} late. Outstanding balance: ${{.Balance}} USD.

Please report your payment as soon as possible to keep your credit active.`))

type messageData struct {
	Customer string
	Item     string
	Number   int
	DueDate  string
	Amount   string
	Balance  string
	DaysLate int
}

// ReminderMessage renders the payment reminder for one installment.
func ReminderMessage(customer string, item string, number int, dueDate time.Time, amount decimal.Decimal) (string, error) {
	return render(reminderTemplate, messageData{
		Customer: customer,
		Item:     item,
		Number:   number,
		DueDate:  dueDate.Format(domain.DateLayout),
		Amount:   amount.StringFixed(pricing.CentPlaces),
	})
}

// OverdueNotice renders the late payment notice for one installment.
func OverdueNotice(customer string, item string, number int, dueDate time.Time, daysLate int, balance decimal.Decimal) (string, error) {
	return render(overdueTemplate, messageData{
		Customer: customer,
		Item:     item,
		Number:   number,
		DueDate:  dueDate.Format(domain.DateLayout),
		Balance:  balance.StringFixed(pricing.CentPlaces),
		DaysLate: daysLate,
	})
}

func render(tmpl *template.Template, data messageData) (string, error) {
	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", err
	}
	return out.String(), nil
}
