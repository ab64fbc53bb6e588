package service

// Pricing 各功能的积分价格表与展示名称
// 价格统一在这里查询，不分散在各功能的 handler 中
type Pricing struct {
	costs map[string]int64
	names map[string]string
}

func NewPricing(costs map[string]int64, names map[string]string) *Pricing {
	p := &Pricing{
		costs: make(map[string]int64, len(costs)),
		names: make(map[string]string, len(names)),
	}
	for k, v := range costs {
		p.costs[k] = v
	}
	for k, v := range names {
		p.names[k] = v
	}
	return p
}

// RequiredCredits 未知的业务类型价格为 0
func (p *Pricing) RequiredCredits(serviceType string) int64 {
	return p.costs[serviceType]
}

// ServiceName 流水描述使用的名称，未配置时返回业务类型本身
func (p *Pricing) ServiceName(serviceType string) string {
	if name, ok := p.names[serviceType]; ok && name != "" {
		return name
	}
	return serviceType
}

// Table 返回价格表副本
func (p *Pricing) Table() map[string]int64 {
	table := make(map[string]int64, len(p.costs))
	for k, v := range p.costs {
		table[k] = v
	}
	return table
}
