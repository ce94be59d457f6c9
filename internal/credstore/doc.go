// Package credstore provides persistent storage for the session credential pair
// (access token and refresh token).
//
// Supports several backends with different security and deployment tradeoffs:
//   - File: Local JSON file with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Env: Read-only environment variable access (requires external secret management)
//   - SQLite: Single-row table in a local database, schema managed by migrations
//   - Memory: Process-local storage for tests and one-shot commands
//
// Session renewal requires writable storage. Env storage can serve a pre-issued
// access token but cannot persist rotated tokens.
package credstore
