package topology

// =============================================================================
// Validation
// =============================================================================

// ValidateDev checks the dev descriptor before it is applied.
//
// Every required service must be declared, every service other services
// depend on must have a health check, and every dependent must wait for
// that check (condition service_healthy) so nothing is started against a
// dependency that is not ready yet.
func ValidateDev(t *Topology, required ...string) error {
	if err := requireServices(t, required); err != nil {
		return err
	}

	for _, svc := range t.Services {
		for _, dep := range svc.DependsOn {
			target, ok := t.Service(dep.Service)
			if !ok {
				return NewParseError("services."+svc.Name+".depends_on."+dep.Service,
					"depends on an undeclared service", ErrMissingService)
			}
			if target.HealthCheck == nil {
				return NewParseError("services."+target.Name+".healthcheck",
					"has dependents but declares no health check", ErrNoHealthCheck)
			}
			if dep.Condition != ConditionHealthy && dep.Condition != ConditionCompleted {
				return NewParseError("services."+svc.Name+".depends_on."+dep.Service,
					"must use condition "+ConditionHealthy, ErrUngatedStartup)
			}
		}
	}

	return nil
}

// ValidateProd checks the prod descriptor before it is rendered.
// The application service needs a health check: start-first updates only
// replace an old task once the new one reports healthy.
func ValidateProd(t *Topology, app string, required ...string) error {
	if err := requireServices(t, append([]string{app}, required...)); err != nil {
		return err
	}

	svc, _ := t.Service(app)
	if svc.HealthCheck == nil {
		return NewParseError("services."+app+".healthcheck",
			"rolling updates need a health check", ErrNoHealthCheck)
	}

	return nil
}

func requireServices(t *Topology, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := t.Service(name); !ok {
			return NewParseError("services."+name, "service is not declared", ErrMissingService)
		}
	}
	return nil
}
