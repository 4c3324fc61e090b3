package protocol

import "time"

// size bounds for the opaque ciphertext fields
const (
	MaxEncryptedKeyLen  = 1000
	MaxEncryptedBodyLen = 8000
	MaxIVLen            = 1000
)

// Message is a stored E2EE message.
// server can see sender and receiver but the content itself is encrypted
type Message struct {
	ID               string    `json:"id"`
	Sender           string    `json:"senderUsername"`   // not encrypted
	Receiver         string    `json:"receiverUsername"` // not encrypted
	EncryptedAesKey  string    `json:"encryptedAesKey"`  // content key, encrypted for the receiver
	EncryptedMessage string    `json:"encryptedMessage"` // content, encrypted with the content key
	IV               string    `json:"iv"`
	Timestamp        time.Time `json:"timestamp"` // server assigned

	// Seq is the insertion sequence, used to order messages that share a timestamp.
	Seq int64 `json:"-"`
}

// SendRequest is what a client submits to send a message.
type SendRequest struct {
	Receiver         string `json:"receiver"`
	EncryptedAesKey  string `json:"encryptedAesKey"`
	EncryptedMessage string `json:"encryptedMessage"`
	IV               string `json:"iv"`
}
