// Package turn implements the asynchronous turn pipeline: submitted prompts
// are persisted, queued, claimed by workers and executed by the agent, with
// retry bookkeeping and degradation hooks on failure.
package turn
