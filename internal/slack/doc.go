// Package slack is the chat-platform adapter. It posts report messages and
// fetches channel history with thread replies through the Slack Web API,
// translating platform messages into the neutral shape the ingestion layer
// consumes.
package slack
