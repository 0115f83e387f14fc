package events

import "context"

// Channels
const (
	ChannelListing  = "events:listing"
	ChannelProperty = "events:property"
)

// Event types
const (
	EventListingUpdated       = "listing_updated"
	EventPaymentReceived      = "payment_received"
	EventPropertyUpdated      = "property_updated"
	EventOwnershipTransferred = "ownership_transferred"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(Event)) error
}
