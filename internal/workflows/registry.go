package workflows

import (
	"github.com/stellara-labs/stellara/pkg/stellara/core"
)

// Deps are the services the built-in workflows call into.
type Deps struct {
	Subscriptions SubscriptionStore
	Sender        WebhookSender
	Eraser        Eraser
	Clock         core.Clock
}

// Registry returns the factories of all built-in workflow types keyed by type name.
func Registry(deps Deps) map[string]func() core.Workflow {
	clock := deps.Clock
	if clock == nil {
		clock = core.NewRealClock()
	}
	return map[string]func() core.Workflow{
		WebhookDeliveryType: func() core.Workflow {
			return &WebhookDeliveryWorkflow{Store: deps.Subscriptions, Sender: deps.Sender, Clock: clock}
		},
		GdprErasureType: func() core.Workflow {
			return &GdprErasureWorkflow{Eraser: deps.Eraser}
		},
	}
}
