// Package risklevel defines the agent risk-level enumeration carried in
// token claims and compared ordinally by the capability-decay enforcer.
// Mirrors pkg/cgalevel's ordered-enum shape.
package risklevel

// Level is one of the four ordered agent risk tiers.
type Level string

const (
	Minimal  Level = "MINIMAL"
	Limited  Level = "LIMITED"
	High     Level = "HIGH"
	Critical Level = "CRITICAL"
)

var order = map[Level]int{Minimal: 0, Limited: 1, High: 2, Critical: 3}

// Valid reports whether l is one of the four known risk levels.
func (l Level) Valid() bool {
	_, ok := order[l]
	return ok
}

// Ord returns l's position in the ladder (MINIMAL=0 .. CRITICAL=3). An
// unknown level sorts above CRITICAL (4). capability.Enforcer.Validate
// compares risk levels only when both are Valid, so an unknown level is not
// reported there as an escalation.
func (l Level) Ord() int {
	if v, ok := order[l]; ok {
		return v
	}
	return len(order)
}
