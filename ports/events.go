package ports

import "context"

// RelaySubmitted describes a relayed transaction handed to the network
type RelaySubmitted struct {
	Author    string `json:"author"`
	Submitter string `json:"submitter"`
	ChainID   int64  `json:"chain_id"`
	TxHash    string `json:"tx_hash"`
}

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, address string, chainID int64) error
	PublishRelaySubmitted(ctx context.Context, event RelaySubmitted) error
}
