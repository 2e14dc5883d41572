package wireformat

import "errors"

var (
	// ErrTruncated means the block ends before the records its counts declare.
	ErrTruncated = errors.New("configuration block truncated")
	// ErrTrailingData means the block is longer than its counts declare.
	ErrTrailingData = errors.New("configuration block has trailing data")
	// ErrAddressFamily means an address record carries an unknown family.
	ErrAddressFamily = errors.New("unsupported address family")

	ErrInvalidPrefix    = errors.New("invalid allowed ip prefix")
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
	ErrMissingPublicKey = errors.New("peer public key is required")
	ErrTooMany          = errors.New("record count exceeds 32 bits")
)
