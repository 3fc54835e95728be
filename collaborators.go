package go_netdbreq

// ExclusionSet is a read-only view of the peers already tried for a lookup.
// It is only valid for the duration of the call it is passed to.
type ExclusionSet map[IdentityHash]struct{}

// Contains reports whether peer is in the set.
func (s ExclusionSet) Contains(peer IdentityHash) bool {
	_, ok := s[peer]
	return ok
}

// PeerSelector picks floodfills from the local routing table.
type PeerSelector interface {
	// SelectNextFloodfill returns the floodfill closest to destination that
	// is not in excluded. ok is false when no such floodfill is known.
	SelectNextFloodfill(destination IdentityHash, excluded ExclusionSet) (peer IdentityHash, ok bool)
}

// LookupMessage carries the logical parameters of one DatabaseLookup and,
// once built, the wire message the builder produced for them.
type LookupMessage struct {
	Destination IdentityHash   // Key being resolved
	Target      IdentityHash   // Floodfill the message is addressed to
	Exploratory bool           // Ask for routers close to the key rather than the key itself
	Direct      bool           // Reply goes straight to the local router
	ReplyPath   *ReplyPath     // Inbound tunnel for the reply; nil when Direct
	Excluded    []IdentityHash // Peers the floodfill should not return
	Payload     any            // Wire message set by the MessageBuilder
}

// MessageBuilder turns lookup parameters into a DatabaseLookup message.
type MessageBuilder interface {
	// BuildLookup returns the built message. An error means nothing may be sent.
	BuildLookup(params LookupMessage) (*LookupMessage, error)
}

// Transport sends a built lookup to a floodfill. Delivery is fire-and-forget;
// the answer, if any, arrives later through RequestManager.RequestComplete.
type Transport interface {
	Send(peer IdentityHash, msg *LookupMessage) error
}

// ReplyPathProvider hands out inbound tunnels usable as reply paths.
type ReplyPathProvider interface {
	// ReplyPath returns a usable inbound tunnel or an error if none exists.
	ReplyPath() (*ReplyPath, error)
}

// RequestCompleteFunc is invoked once when a lookup ends. record is nil on
// failure or expiry.
type RequestCompleteFunc func(record *RouterRecord)
