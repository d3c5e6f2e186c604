// Package agent contains the core orchestrator that drives the
// think-act-remember loop of an autonomous trading turn. It owns the state
// machine that alternates between policy consultation, tool dispatch and
// memory updates, and enforces the per-turn action cap and repeat
// suppression.
package agent
