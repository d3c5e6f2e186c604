// Package tool hosts the capability registry and dispatcher that sit between
// the orchestration loop and the exchange client. Every policy-issued action
// passes through a single dispatch boundary that validates arguments, invokes
// the capability, and folds any failure into a classified outcome.
package tool
