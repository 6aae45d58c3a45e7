// Package trigger fires a job on a cron or interval schedule using
// robfig/cron.
package trigger
