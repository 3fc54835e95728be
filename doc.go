// Package go_netdbreq tracks I2P NetDB lookups in flight.
//
// A router resolves an unknown identity hash by asking floodfills, one at a
// time, whether they hold the record. RequestManager keeps at most one
// LookupRequest per destination, picks the next floodfill through a
// PeerSelector, builds and sends queries through a MessageBuilder and a
// Transport, and ends each lookup exactly once: with the record, after
// MAX_NUM_REQUEST_ATTEMPTS floodfills, or at its lifetime ceiling.
//
// Basic usage:
//
//	cfg := go_netdbreq.DefaultConfig()
//	m, err := go_netdbreq.NewRequestManager(cfg, selector, builder, transport)
//	if err != nil {
//	    return err
//	}
//	m.SetReplyPathProvider(tunnels)
//	m.Start()
//	defer m.Stop()
//
//	m.RequestDestination(hash, false, false, func(ri *go_netdbreq.RouterRecord) {
//	    if ri == nil {
//	        // not found
//	    }
//	})
//
// Replies are fed back with RequestComplete, or HandleSearchReply when a
// floodfill does not know the key.
package go_netdbreq
