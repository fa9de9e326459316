// Package planner turns a workflow template and an order into the concrete
// step graph of a new execution.
package planner
