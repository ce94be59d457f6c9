// Package chat keeps the local view of a direct conversation: messages confirmed by
// the server plus messages still in flight. Sends are optimistic; a message shows up
// as pending immediately and is reconciled with the server's copy through the client
// ID it was sent with. Polling keeps the view current.
package chat
