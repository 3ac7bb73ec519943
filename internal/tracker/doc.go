// Package tracker classifies captured traffic into named channels and keeps
// a per-session ledger of distinct connections per channel.
//
// A [Config] declares channels, each an endpoint [Descriptor] plus inclusive
// [Limits]. A [Ledger] built from it consumes [Record] values, either directly
// through Observe or as capture output lines through HandleLine, and answers
// two questions: has a channel been seen yet ([Ledger.WaitForEvent]) and is any
// channel outside its limits ([Ledger.OutOfLimits]).
//
// A connection is identified per channel by its protocol and peer endpoint,
// the side of the record that did not match the channel's descriptor. Both
// directions of a flow therefore count once, and a new source port counts as
// a new connection.
package tracker
