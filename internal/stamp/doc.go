// Package stamp turns a "/stamp :name:" slash command into a Slack message
// showing the workspace emoji image, posted as the invoking user.
//
// The Orchestrator validates the command, resolves the emoji image URL and
// the user's identity concurrently, posts once, and only then produces the
// acknowledgement for the original command.
package stamp
