// Package mqtt publishes the bot's task activity to an MQTT broker as
// retained state topics under morpheum/<device>:
//
//	availability     online or offline
//	active_tasks     tasks currently running
//	tasks_completed  tasks finished since start
//	tasks_today      tasks finished since local midnight
//	last_task        JSON summary of the most recent task
//	copilot_session  JSON status of the latest Copilot session update
//	provider         the global provider selection
//	device           JSON device description
//
// Activity arrives from the [events.Bus]. The connection is managed by
// Eclipse Paho's autopaho, which reconnects on its own; every
// (re)connect republishes availability and the full state, and a will
// message marks the device offline if the connection drops.
package mqtt
