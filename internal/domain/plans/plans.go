// Package plans — тарифные планы премиум-доступа. Таблица планов статична и
// задаётся в коде: бот не проводит платежи сам, а лишь показывает прайс и
// контакт для оплаты, поэтому оперативная правка тарифов не требуется.
package plans

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Plan описывает один тарифный план. Days == 0 означает бессрочный доступ.
type Plan struct {
	Name  string
	Days  int
	Price decimal.Decimal
}

// Lifetime сообщает, бессрочный ли план.
func (p Plan) Lifetime() bool { return p.Days == 0 }

// Default возвращает действующую таблицу планов в порядке показа.
func Default() []Plan {
	return []Plan{
		{Name: "1 Month", Days: 30, Price: decimal.NewFromInt(5)},
		{Name: "3 Months", Days: 90, Price: decimal.NewFromInt(12)},
		{Name: "Lifetime", Days: 0, Price: decimal.NewFromInt(25)},
	}
}

// Render собирает текст для /upgrade: список планов с ценами и контакт для
// оплаты. Контакт приходит из конфигурации.
func Render(table []Plan, contact string) string {
	var b strings.Builder
	b.WriteString("Premium plans:\n\n")
	for _, p := range table {
		term := fmt.Sprintf("%d days", p.Days)
		if p.Lifetime() {
			term = "forever"
		}
		fmt.Fprintf(&b, "• %s — $%s (%s, unlimited downloads)\n", p.Name, p.Price.StringFixed(2), term)
	}
	b.WriteString("\nTo upgrade, contact ")
	b.WriteString(contact)
	b.WriteString(" with the plan name.")
	return b.String()
}

// ByName ищет план по имени без учёта регистра.
func ByName(table []Plan, name string) (Plan, bool) {
	for _, p := range table {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Plan{}, false
}
