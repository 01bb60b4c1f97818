package events

type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

type Stats struct {
	Topics    []TopicStats `json:"topics"`
	Published uint64       `json:"published"`
	Dropped   uint64       `json:"dropped"`
}

// Bus delivers events to subscribers. Each subscription observes the events
// of a topic in publish order.
type Bus interface {
	Publish(topic string, event Event)
	Subscribe(topic string, handler Handler) Subscription
	Stats() Stats
	Close() error
}
