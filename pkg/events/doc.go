/*
Package events provides an in-memory, non-blocking pub/sub broker used to
fan out ticket, control, and snapshot events to live subscribers (e.g. a
notifier), independent of the durable
Notification records pkg/ticketing also writes to the store.

Broker.Publish never blocks the caller on a slow subscriber: a subscriber
whose buffer is full simply misses the event. Consumers that need a
guaranteed-delivery feed should read the Notification collection instead.
*/
package events
