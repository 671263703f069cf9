// Package broker implements topic publish/subscribe on top of session.
//
// Wire commands, all carried as ordinary session messages:
//
//	subscribe    topic (length-prefixed string)
//	unsubscribe  topic
//	publish      topic, then the raw message bytes
//
// The broker forwards a publish to every subscriber of the topic except the
// sender. Delivery is at most once; a subscriber that is gone when the
// fan-out runs is skipped.
package broker
