package plans

import (
	"errors"
	"fmt"
	"strings"
)

// Name тарифный план. Множество закрыто: free, premium, premium+, pro.
type Name string

const (
	Free        Name = "free"
	Premium     Name = "premium"
	PremiumPlus Name = "premium+"
	Pro         Name = "pro"
)

// order задает порядок планов в выдаче /plans.
var order = []Name{Free, Premium, PremiumPlus, Pro}

var (
	ErrUnknownPlan  = errors.New("unknown plan")
	ErrInvalidTable = errors.New("invalid plan table")
)

// Valid сообщает, входит ли имя в закрытый набор планов.
func (n Name) Valid() bool {
	for _, known := range order {
		if n == known {
			return true
		}
	}
	return false
}

// Plan описывает тариф: цену, price ID в Stripe и лимиты слов.
type Plan struct {
	Name               Name    `json:"name" mapstructure:"name"`
	Price              float64 `json:"price" mapstructure:"price"`
	PriceID            string  `json:"price_id" mapstructure:"price_id"`
	MonthlyWords       int     `json:"monthly_words" mapstructure:"monthly_words"`
	MaxWordsPerRequest int     `json:"max_words_per_request" mapstructure:"max_words_per_request"`
}

// Catalog неизменяемая таблица планов, загружаемая из конфигурации при старте.
type Catalog struct {
	byName  map[Name]Plan
	byPrice map[string]Name
}

// NewCatalog строит каталог и проверяет таблицу: только известные имена,
// без повторов, обязательный free, уникальные price ID.
func NewCatalog(table []Plan) (*Catalog, error) {
	c := &Catalog{
		byName:  make(map[Name]Plan, len(table)),
		byPrice: make(map[string]Name, len(table)),
	}

	for _, p := range table {
		p.Name = Name(strings.ToLower(strings.TrimSpace(string(p.Name))))
		p.PriceID = strings.TrimSpace(p.PriceID)

		if !p.Name.Valid() {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidTable, ErrUnknownPlan, p.Name)
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: plan %q listed twice", ErrInvalidTable, p.Name)
		}
		if p.MonthlyWords < 0 || p.MaxWordsPerRequest < 0 {
			return nil, fmt.Errorf("%w: plan %q has negative limits", ErrInvalidTable, p.Name)
		}
		if p.PriceID != "" {
			if other, dup := c.byPrice[p.PriceID]; dup {
				return nil, fmt.Errorf("%w: price %q used by %q and %q", ErrInvalidTable, p.PriceID, other, p.Name)
			}
			c.byPrice[p.PriceID] = p.Name
		}
		c.byName[p.Name] = p
	}

	if _, ok := c.byName[Free]; !ok {
		return nil, fmt.Errorf("%w: free plan is required", ErrInvalidTable)
	}
	return c, nil
}

// PlanForPrice отображает price ID в имя плана точным совпадением.
// Функция тотальная: любой неизвестный идентификатор дает free.
func (c *Catalog) PlanForPrice(priceID string) Name {
	if name, ok := c.byPrice[priceID]; ok {
		return name
	}
	return Free
}

// IsPaidPrice сообщает, принадлежит ли price ID платному плану.
func (c *Catalog) IsPaidPrice(priceID string) bool {
	name, ok := c.byPrice[priceID]
	return ok && name != Free
}

// Get возвращает план по имени.
func (c *Catalog) Get(name Name) (Plan, bool) {
	p, ok := c.byName[name]
	return p, ok
}

// Limits возвращает план по имени, а для неизвестного имени лимиты free.
func (c *Catalog) Limits(name Name) Plan {
	if p, ok := c.byName[name]; ok {
		return p
	}
	return c.byName[Free]
}

// All возвращает планы в порядке free, premium, premium+, pro.
func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(c.byName))
	for _, name := range order {
		if p, ok := c.byName[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// PriceIDFor возвращает price ID плана или пустую строку для free и неизвестных планов.
func (c *Catalog) PriceIDFor(name Name) string {
	return c.byName[name].PriceID
}
