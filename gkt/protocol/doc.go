// Package protocol defines the key distribution control-stream messages.
//
// A member opens a control stream to the aggregator and sends JOIN with its
// member id and X25519 public key. The aggregator answers WELCOME with its
// own public key, then KEY carrying the current key record sealed for that
// member, and finally CLOSE. Rejections are sent as ERROR.
package protocol
