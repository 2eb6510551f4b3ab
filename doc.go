// Package meshcore implements an offline store-and-forward mesh messaging node.
//
// A [Node] composes the protocol engine: links deliver raw chunk frames,
// the fragment Reassembler rebuilds and deduplicates envelopes, the router
// delivers, acknowledges or re-floods them, and the crypto manager seals
// directed payloads for peers with an established session. The node also
// owns an ephemeral identifier that rotates on a timer.
//
// # Getting Started
//
//	options := meshcore.NewOptions()
//	options.Crypto = &interfaces.CryptoConfig{UseSimulation: true}
//
//	node, err := meshcore.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	node.Start()
//	defer node.Stop()
//
//	node.OnMessage(func(msg meshcore.Message) {
//	    fmt.Printf("from %s: %s\n", msg.From, msg.Payload)
//	})
//
//	// link is any interfaces.Link, e.g. a BLE connection to a neighbour.
//	node.AddLink(link)
//	node.SendMessage(link.PeerID(), []byte("hello"))
//
// # Delivery
//
// Directed messages travel on the local topic to one neighbour and are
// acknowledged by the receiving node. Their progress is observable through
// [Node.OnDeliveryStatus] and [Node.Outgoing]. Broadcasts flood the mesh on
// a non-local topic, hop by hop, until their TTL runs out; they are never
// acknowledged.
//
// # Encryption
//
// Once [Node.EstablishSession] has succeeded for a peer, directed payloads
// to that peer are encrypted and flagged. Encryption fails open: if sealing
// fails the payload is sent in clear without the encrypted flag, and the
// failure is logged and counted in [Stats].
//
// # Signing
//
// With [Options.SignMessages] set, every outgoing payload carries the
// sender's Ed25519 public key and a signature over payload and key, and the
// envelope is flagged signed. Receivers verify before delivery, so a signed
// broadcast stays verifiable after any number of relays. A message whose
// signature does not verify is dropped and never acknowledged; the drop is
// counted in [Stats]. Verified messages report the signer in [Message].
//
// # Configuration
//
// [NewOptions] reads MESH_RELAY_ENABLED, MESH_ROTATION_INTERVAL,
// MESH_DEFAULT_TTL, MESH_SIGN_MESSAGES and MESH_LOG_LEVEL. The crypto backend honours the
// factory variables MESH_USE_SIMULATION, MESH_KEYSTORE_DIR and
// MESH_KEYSTORE_PASSPHRASE.
package meshcore
