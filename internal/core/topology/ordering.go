package topology

import "sort"

// =============================================================================
// Service Ordering Functions
// =============================================================================

// StartOrder sorts services by their dependencies using Kahn's algorithm.
// Services with no dependencies come first; ties are broken by name so the
// order is stable between runs.
//
// Example:
//
//	// Services: bot → postgres, bot → redis
//	StartOrder(services) // [postgres, redis, bot]
func StartOrder(services []Service) []Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep.Service] = append(dependents[dep.Service], svc.Name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var result []Service
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if svc, ok := serviceMap[name]; ok {
			result = append(result, svc)
		}

		var ready []string
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	// A cycle is rejected by Parse; keep the remaining services anyway.
	if len(result) < len(services) {
		seen := make(map[string]bool, len(result))
		for _, r := range result {
			seen[r.Name] = true
		}
		for _, svc := range services {
			if !seen[svc.Name] {
				result = append(result, svc)
			}
		}
	}

	return result
}

// ServiceNames returns the names of services in order.
func ServiceNames(services []Service) []string {
	names := make([]string, len(services))
	for i, svc := range services {
		names[i] = svc.Name
	}
	return names
}
