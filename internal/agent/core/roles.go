package core

import (
	"strings"

	"github.com/mohammad-safakhou/ragpipe/models"
)

// NewRoles builds the four personas of a run. Only the executor gets tools.
func NewRoles(executorTools []Tool) Roles {
	return Roles{
		Generic: Role{Name: GenericAssistantName},
		Planner: Role{Name: PlannerName, SystemMessage: PlannerPrompt()},
		Executor: Role{
			Name:          ResearchAssistantName,
			SystemMessage: ExecutorPrompt(),
			Tools:         executorTools,
			IsTermination: ExecutorDone,
		},
		Reflector: Role{Name: ReflectionName, SystemMessage: ReflectionPrompt()},
	}
}

// ExecutorDone ends an executor exchange when the driver has nothing left to
// send it: an empty message that is neither a tool result nor a tool call.
func ExecutorDone(msg models.Message) bool {
	return msg.Role != models.RoleTool && !msg.HasToolCalls() && msg.Content == ""
}

// DriverDone ends any exchange once a role reply carries a summary or
// terminate marker, or is empty without requesting a tool.
func DriverDone(msg models.Message) bool {
	if strings.Contains(msg.Content, MarkerSummary) ||
		strings.Contains(msg.Content, MarkerSummaryAlt) ||
		strings.Contains(msg.Content, MarkerTerminate) {
		return true
	}
	return !msg.HasToolCalls() && msg.Content == ""
}
