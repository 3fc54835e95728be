package go_netdbreq

import (
	"github.com/go-i2p/common/base64"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// shortHash renders the first characters of the I2P base64 form of a hash,
// enough to tell lookups apart in log lines.
func shortHash(h IdentityHash) string {
	s := base64.EncodeToString(h[:])
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// fullHash renders the complete I2P base64 form of a hash.
func fullHash(h IdentityHash) string {
	return base64.EncodeToString(h[:])
}

// parseHash decodes an I2P base64 hash as written by fullHash.
func parseHash(s string) (IdentityHash, error) {
	var h IdentityHash
	raw, err := base64.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, ErrInvalidArgument
	}
	copy(h[:], raw)
	return h, nil
}
