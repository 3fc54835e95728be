package go_netdbreq

import (
	"encoding/binary"
	"time"

	common "github.com/go-i2p/common/data"
	"github.com/go-i2p/common/lease"
	"github.com/go-i2p/common/router_info"
	"github.com/go-i2p/crypto/rand"
	"github.com/samber/oops"
)

// IdentityHash is the 32-byte key of a router being resolved or queried.
type IdentityHash = common.Hash

// RouterRecord is the NetDB entry a successful lookup resolves to.
// Ownership passes to the completion callback; nil means the lookup failed.
type RouterRecord = router_info.RouterInfo

// ReplyPath is an inbound tunnel a floodfill sends its answer through when
// the lookup is not direct.
type ReplyPath struct {
	Gateway  IdentityHash // Inbound gateway router
	TunnelID uint32       // Tunnel ID at the gateway
	Expires  time.Time    // Zero means no known expiry
}

// Expired reports whether the tunnel behind the path has ended at now.
func (p *ReplyPath) Expired(now time.Time) bool {
	return !p.Expires.IsZero() && !now.Before(p.Expires)
}

// ReplyPathFromLease converts a lease of one of our inbound tunnels into a
// reply path. A zero end date leaves the path without expiry.
func ReplyPathFromLease(l *lease.Lease) *ReplyPath {
	if l == nil {
		return nil
	}
	p := &ReplyPath{
		Gateway:  l.TunnelGateway(),
		TunnelID: l.TunnelID(),
	}
	if ms := binary.BigEndian.Uint64(l[36:44]); ms != 0 {
		p.Expires = time.UnixMilli(int64(ms))
	}
	return p
}

// readRandom fills seeds for exploratory keys.
var readRandom = rand.Read

// NewExploratoryKey returns a random key for an exploratory lookup. The
// floodfills closest to it answer with routers they know that we do not.
func NewExploratoryKey() (IdentityHash, error) {
	var seed [32]byte
	if _, err := readRandom(seed[:]); err != nil {
		log.WithError(err).Error("failed to read random seed for exploratory key")
		return IdentityHash{}, oops.
			In("netdb").
			Code("exploratory_key").
			Wrapf(err, "read random seed")
	}
	return common.HashData(seed[:]), nil
}

// isZeroHash reports whether h is the all-zero hash, which never names a router.
func isZeroHash(h IdentityHash) bool {
	return h == IdentityHash{}
}
