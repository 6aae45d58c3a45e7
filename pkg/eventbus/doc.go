// Package eventbus provides the in-memory notifier used to publish task
// progress to listeners, either as synchronous callbacks or as buffered
// channels.
package eventbus
