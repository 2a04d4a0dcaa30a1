// Package bot implements a Discord community bot with an agent-driven
// command center.
//
// Admins talk to a language model in the command center channel. The
// model operates the community's services through tools served by a
// remote MCP server: checking service health, restarting services and
// notifying users. Service alerts received by the webhook server are
// posted to the same channel, and handed to the agents in a new thread.
//
// Key components of the package include:
//
//   - Bot: owns the Discord session, database, agents and webhook server.
//   - AgentManager: routes alerts and user messages between the agents.
//   - CommandCenterAgent: answers requests, calling tools as needed.
//   - SupportAgent: summarizes threads, suggests remedies and routes messages.
//   - MCPInvoker: calls tools and reads the prompt and service catalogs.
//   - ModuleManager: switches features on and off at runtime.
//
// The remaining features are community management: ticket channels for
// support, reports and sponsorship, counting and story games, temporary
// voice channels, an activity log and a smart chat relay.
package bot
