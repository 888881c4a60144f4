// Package notifier turns job outcomes published on the event bus into short
// operator messages.
//
// The service subscribes to job.completed and job.failed, formats each event
// and queues the text for a single supervised sender. Delivery is rate limited
// and retried with backoff; a sink that keeps failing only costs a log line,
// never a scheduler state transition.
//
// # Sinks
//
// Telegram delivers to a chat (optionally a forum thread) through telebot.
// LogSink writes the text to the structured log and is used when no chat is
// configured.
package notifier
