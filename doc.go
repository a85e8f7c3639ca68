// Package quietlink is a headless client core for a private messaging
// service. Two devices bootstrap a mutually authenticated encrypted
// channel from an out-of-band connection bundle (typically a QR code)
// and then exchange content with offline resilience.
//
// # Getting Started
//
// Create a Client, set your profile, and register callbacks:
//
//	client, err := quietlink.New(quietlink.Options{
//	    DataDir:   "/home/me/.quietlink",
//	    ServerURL: "https://api.example.org",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnMessage(func(m storage.Message) {
//	    fmt.Printf("[%s] %s\n", m.ChatID, m.Data)
//	})
//	client.OnConnectionAuthenticated(func(chatID string) {
//	    fmt.Println("chat ready:", chatID)
//	})
//
// Generate a bundle to share, or read one shared with you:
//
//	raw, _ := client.GenerateBundle(ctx, "Sam from the climbing gym")
//	// render raw as a QR code for the peer to scan
//
//	err = client.ReadBundle(ctx, scanned)
//
// Once the handshake completes, send and pull messages:
//
//	client.SendText(ctx, chatID, "hello")
//	client.Pull(ctx)
//
// Sends that fail on network errors are journaled and resent in order
// on the next Pull or FlushJournal.
package quietlink
