package module

import (
	"fmt"
	"strings"
)

// Phase is a lifecycle hook point of a binding.
type Phase int

const (
	BeforeCompile Phase = iota
	AfterCompile
	BeforeDeployment
	BeforeDeploy
	OnChange
	AfterDeploy
	AfterDeployment
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	BeforeCompile,
	AfterCompile,
	BeforeDeployment,
	BeforeDeploy,
	OnChange,
	AfterDeploy,
	AfterDeployment,
}

var phaseNames = map[Phase]string{
	BeforeCompile:    "beforeCompile",
	AfterCompile:     "afterCompile",
	BeforeDeployment: "beforeDeployment",
	BeforeDeploy:     "beforeDeploy",
	OnChange:         "onChange",
	AfterDeploy:      "afterDeploy",
	AfterDeployment:  "afterDeployment",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase accepts the camelCase phase names, case-insensitively.
func ParsePhase(value string) (Phase, error) {
	for phase, name := range phaseNames {
		if strings.EqualFold(name, value) {
			return phase, nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle phase '%s'", value)
}

// Unconditional reports whether hooks of this phase run on every pass, even
// when their owner is unchanged.
func (p Phase) Unconditional() bool {
	switch p {
	case BeforeCompile, AfterCompile, BeforeDeployment, AfterDeployment:
		return true
	default:
		return false
	}
}

// Before reports whether hooks of this phase run before their owner is deployed.
func (p Phase) Before() bool {
	return p <= BeforeDeploy
}
