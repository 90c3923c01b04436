package fitting

import "quel-fitting-server/modules/common/model"

// Pricing - pricing table 에 override 가 없을 때의 기본 요금
type Pricing struct {
	Generation int
	PerEdit    int
}

// DefaultPricing - 기본 2 크레딧 + 편집당 1 크레딧
var DefaultPricing = Pricing{Generation: 2, PerEdit: 1}

// Quote - 총 비용과 action 별 내역
type Quote struct {
	Total     int            `json:"total"`
	Breakdown map[string]int `json:"breakdown"`
}

// Cost computes the credit cost of one attempt. Each action can be overridden
// independently; negative overrides are ignored.
func Cost(tools model.AITools, overrides map[string]int, defaults Pricing) Quote {
	price := func(action string, fallback int) int {
		if v, ok := overrides[action]; ok && v >= 0 {
			return v
		}
		return fallback
	}

	q := Quote{Breakdown: map[string]int{}}
	q.Breakdown[model.ActionGeneration] = price(model.ActionGeneration, defaults.Generation)
	for _, kind := range tools.Enabled() {
		q.Breakdown[string(kind)] = price(string(kind), defaults.PerEdit)
	}
	for _, v := range q.Breakdown {
		q.Total += v
	}
	return q
}
