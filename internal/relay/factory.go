package relay

import (
	"github.com/Shugur-Network/lens/internal/domain"
	"github.com/Shugur-Network/lens/internal/models"
)

// WsFactory creates real websocket connections. It carries the transport
// config and optional auth signer shared by every connection it makes.
type WsFactory struct {
	cfg    ConnConfig
	signer AuthSigner
}

// NewWsFactory returns a factory producing connections with the given
// transport config. signer may be nil when no identity is configured.
func NewWsFactory(cfg ConnConfig, signer AuthSigner) *WsFactory {
	return &WsFactory{cfg: cfg, signer: signer}
}

func (f *WsFactory) NewConnection(address string, opts models.ConnectOptions,
	ephemeral bool, handler domain.ConnectionHandler) domain.RelayConnection {
	return NewWsConnection(address, opts, ephemeral, handler, f.cfg, f.signer)
}
