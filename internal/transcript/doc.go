// Package transcript defines the two conversation transcripts kept per
// conversation, the client-facing UI messages and the structured messages
// used to re-invoke the model, and converts between them.
package transcript
