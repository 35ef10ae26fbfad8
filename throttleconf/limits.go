// Package throttleconf polls server throttling limits from a shared KV
// bucket and exposes them as listener options. It is a sibling of the server
// manager: the manager queries it at each listener build, and an operator
// updating the bucket takes effect at the next registry-driven restart.
package throttleconf

import (
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/c360/grpchost/errors"
)

// Limits are the throttling settings applied to the native listener
type Limits struct {
	// MaxConcurrentStreams caps concurrent streams per connection.
	// Zero means the transport default.
	MaxConcurrentStreams uint32 `json:"max_concurrent_streams,omitempty"`

	// MaxRecvMsgBytes caps inbound message size. Zero means default.
	MaxRecvMsgBytes int `json:"max_recv_msg_bytes,omitempty"`

	// MaxSendMsgBytes caps outbound message size. Zero means default.
	MaxSendMsgBytes int `json:"max_send_msg_bytes,omitempty"`
}

// DefaultLimits returns limits that leave all transport defaults in place
func DefaultLimits() Limits {
	return Limits{}
}

// ServerOptions converts the limits to listener options. Zero-valued fields
// produce no option.
func (l Limits) ServerOptions() []grpc.ServerOption {
	var opts []grpc.ServerOption
	if l.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(l.MaxConcurrentStreams))
	}
	if l.MaxRecvMsgBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(l.MaxRecvMsgBytes))
	}
	if l.MaxSendMsgBytes > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(l.MaxSendMsgBytes))
	}
	return opts
}

// parseLimits decodes limits from their stored JSON form
func parseLimits(data []byte) (Limits, error) {
	var l Limits
	if err := json.Unmarshal(data, &l); err != nil {
		return Limits{}, errors.WrapInvalid(err, "throttleconf", "parseLimits", "decode limits")
	}
	if err := l.validate(); err != nil {
		return Limits{}, err
	}
	return l, nil
}

func (l Limits) validate() error {
	if l.MaxRecvMsgBytes < 0 || l.MaxSendMsgBytes < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "throttleconf", "validate", "check message size limits")
	}
	return nil
}
