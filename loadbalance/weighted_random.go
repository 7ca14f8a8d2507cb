package loadbalance

import (
	"context"
	"math/rand/v2"

	"sila-rpc/registry"
)

// WeightedRandomBalancer picks instances with probability proportional to Weight.
// Instances without a positive weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ context.Context, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for _, v := range instances {
		total += weight(v)
	}

	r := rand.IntN(total)
	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func weight(inst registry.ServiceInstance) int {
	if inst.Weight > 0 {
		return inst.Weight
	}
	return 1
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
