// Package eventflow is an in-process event publication framework.
//
// Application code raises events through a Publisher. Each event type gets
// a cached Descriptor holding its static metadata (topic, stream,
// persistence and cancelation flags) and a cached Pipeline: an ordered
// chain of Behaviors that ends in the type's Handlers.
//
// # Declaring Events
//
// Any type with an EventName method is an Event. Metadata is declared once
// at startup in a Catalog:
//
//	type OrderPlaced struct {
//	    OrderID string `json:"order_id"`
//	}
//
//	func (OrderPlaced) EventName() string { return "order.placed" }
//
//	catalog := eventflow.NewCatalog()
//	eventflow.Declare[OrderPlaced](catalog, eventflow.Persistent(), eventflow.InStream("orders"))
//
// # Building Pipelines
//
// Behaviors registered first run first. Handlers run sequentially after
// every behavior has called next:
//
//	pipelines := eventflow.NewPipelineRegistry(eventflow.WithLogger(logger))
//	pipelines.Use(eventflow.CancelBehavior{}, eventflow.NewLoggingBehavior(logger))
//	eventflow.HandleWith[OrderPlaced](pipelines, eventflow.HandlerFunc[OrderPlaced](
//	    func(ctx context.Context, evt OrderPlaced, ec *eventflow.EventContext) error {
//	        return ship(ctx, evt.OrderID)
//	    },
//	))
//
// # Publishing
//
// Without a queue, Publish runs the pipeline synchronously and returns its
// error. With a queue, Publish only writes the event; a consumer from the
// consumer package drains the queue later:
//
//	factory := eventflow.NewDescriptorFactory(catalog)
//	publisher := eventflow.NewPublisher(factory, pipelines,
//	    eventflow.WithQueue(queue.NewMemoryQueue()))
//	err := publisher.Publish(ctx, OrderPlaced{OrderID: "o-1"})
//
// # Transports
//
// Queue and Store are the two transport contracts. Implementations live in
// the queue package (bounded channel, relational table) and the store
// package (in-memory and Redis-backed streams).
package eventflow
