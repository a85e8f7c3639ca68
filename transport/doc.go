// Package transport defines the contracts quietlink consumes from the
// server side: link allocation, chat creation, message posting, backlog
// pulls, encrypted blob storage, and the auth-token exchange. The HTTP
// implementation talks JSON to the service; tests use the in-package
// MockAPI. The core never reimplements these collaborators, it only
// calls them.
package transport
