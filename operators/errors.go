package operators

import "fmt"

// OperatorError reports a failed step of the GPU operator rollout.
type OperatorError struct {
	Step   string
	Detail string
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator installation failed at %s: %s", e.Step, e.Detail)
}
