// Package runner wires configuration, storage, the chat client, and the
// workflow engine into the operations the CLI exposes.
package runner
