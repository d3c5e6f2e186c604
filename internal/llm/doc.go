// Package llm contains adapters for invoking the policy oracle, the large
// language model that decides the next trading action for the orchestration
// loop. It abstracts away provider-specific APIs and normalizes the decision
// lifecycle: each call yields either a structured tool invocation or a final
// user-facing reply, never both.
package llm
