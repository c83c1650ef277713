package netpolicy

import "errors"

// Error kinds from spec.md §4.12 / §7 "Network" taxonomy.
var (
	ErrHostBlocked       = errors.New("netpolicy: host blocked by policy")
	ErrTooManyConnections = errors.New("netpolicy: connection limit reached")
	ErrNameResolution    = errors.New("netpolicy: name resolution failed")
	ErrIOTimeout         = errors.New("netpolicy: io timeout")
	ErrTLSHandshake      = errors.New("netpolicy: tls handshake failed")
	ErrCertVerify        = errors.New("netpolicy: certificate verification failed")
	ErrNotOwned          = errors.New("netpolicy: connection handle not owned by this sandbox")
	ErrClosed            = errors.New("netpolicy: connection closed")
	ErrConnectTimeout    = errors.New("netpolicy: connect timeout")
)
