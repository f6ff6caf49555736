// Package chat stores therapy chat sessions and their messages. New
// messages are streamed to live subscribers and announced to the job
// server as therapy/session.message events. With WithCipher, message
// content is sealed before it reaches the store.
package chat
