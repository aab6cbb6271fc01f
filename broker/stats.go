package broker

import "sync/atomic"

// Stats holds broker-wide counters.
type Stats struct {
	connectionsAccepted atomic.Uint64
	connectionsCurrent  atomic.Int64
	commandsIn          atomic.Uint64
	unknownCommands     atomic.Uint64
	publishIn           atomic.Uint64
	deliveriesOut       atomic.Uint64
	deliveryFailures    atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsCurrent  int64  `json:"connections_current"`
	CommandsIn          uint64 `json:"commands_in"`
	UnknownCommands     uint64 `json:"unknown_commands"`
	PublishIn           uint64 `json:"publish_in"`
	DeliveriesOut       uint64 `json:"deliveries_out"`
	DeliveryFailures    uint64 `json:"delivery_failures"`
}

// Snapshot returns the current counter values.
func (stats *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ConnectionsAccepted: stats.connectionsAccepted.Load(),
		ConnectionsCurrent:  stats.connectionsCurrent.Load(),
		CommandsIn:          stats.commandsIn.Load(),
		UnknownCommands:     stats.unknownCommands.Load(),
		PublishIn:           stats.publishIn.Load(),
		DeliveriesOut:       stats.deliveriesOut.Load(),
		DeliveryFailures:    stats.deliveryFailures.Load(),
	}
}
