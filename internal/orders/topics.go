package orders

const (
	TopicOrderConfirmed = "order.confirmed"
	TopicOrderCancelled = "order.cancelled"
)

// Partition key = order_id so all events for one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
