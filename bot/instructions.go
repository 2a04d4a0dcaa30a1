package bot

import (
	"fmt"
	"strings"
)

// AlertType identifies the kind of service event reported by the
// monitoring webhook
type AlertType string

const (
	AlertServiceDown             AlertType = "service_down"
	AlertServiceDegraded         AlertType = "service_degraded"
	AlertServiceRestarting       AlertType = "service_restarting"
	AlertServiceRestartFailed    AlertType = "service_restart_failed"
	AlertServiceRestartSucceeded AlertType = "service_restart_succeeded"
)

const systemContextTemplate = "You are a helpful, reliable and truthful assistant that manages " +
	"React ChatBotify services. You can help users by providing service information, health " +
	"status and performing troubleshooting steps. You should use available tools to assist you " +
	"in your decisions. Feel free to be expressive with emojis such as ✅ or ❌. You will " +
	"strictly only manage the following available services: {services}\n"

var alertInstructions = map[AlertType]string{
	AlertServiceDown: "A service appears to have gone down. You must first check the service " +
		"to verify if it is indeed down. If so, you should attempt to troubleshoot and bring " +
		"the service back up. If unsuccessful, you should alert the user.",
	AlertServiceDegraded: "A service is experiencing degraded performance. Investigate the " +
		"cause, check metrics, attempt to restore normal operation and report your findings.",
	AlertServiceRestarting: "A service is in the process of restarting. Monitor the restart " +
		"and confirm the service returns to a healthy state.",
	AlertServiceRestartFailed: "A service failed to restart. Verify the failure and notify " +
		"the user if the issue persists and the service remains down.",
	AlertServiceRestartSucceeded: "A service restart succeeded. Perform a quick check to verify " +
		"that the service is stable.",
}

// Instruction returns the agent instruction for the alert type, and
// whether the type is known
func (a AlertType) Instruction() (string, bool) {
	s, ok := alertInstructions[a]
	return s, ok
}

// renderSystemContext fills the service list into the system context
// template
func renderSystemContext(services ServiceCatalog) string {
	return strings.ReplaceAll(systemContextTemplate, "{services}", services.String())
}

const (
	summarizePromptTemplate = "Summarize the key takeaways from the following conversation:\n%s"

	suggestRemedyPromptTemplate = "Given the following alert:\n%s\n\n" +
		"And the following available tools:\n%s\n\n" +
		"And the following insights from previous conversations:\n%s\n\n" +
		"What is the best course of action to take? If you believe the issue has been " +
		"resolved, you can use the `resolve_thread` tool to close the thread and learn from " +
		"the conversation. You can call the tool by responding with " +
		"`resolve_thread(thread_id=%s)`."

	routePromptTemplate = "Given the following conversation history:\n%s\n\n" +
		"And the following user message:\n%s\n\n" +
		"Should the support agent or the command center agent handle this message? The " +
		"support agent is good at summarizing conversations and providing insights. The " +
		"command center agent is good at executing commands and interacting with the MCP " +
		"server. Respond with 'support' or 'command_center'."
)

func summarizePrompt(content string) string {
	return fmt.Sprintf(summarizePromptTemplate, content)
}

func suggestRemedyPrompt(alert string, tools []string, insights string, threadID string) string {
	return fmt.Sprintf(
		suggestRemedyPromptTemplate,
		alert,
		strings.Join(tools, ", "),
		insights,
		threadID,
	)
}

func routePrompt(history string, message string) string {
	return fmt.Sprintf(routePromptTemplate, history, message)
}
