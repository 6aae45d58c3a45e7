// Package jobs runs the commands of a job file through an asyncqueue.Queue,
// with per-task circuit breakers, run history and live config reconciling.
package jobs
