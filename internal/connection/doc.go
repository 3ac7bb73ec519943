// Package connection abstracts how nettrace runs commands on a test peer.
//
// A [Connection] is bound to one peer, identified by a [Tag], and knows the
// peer's [TargetOS]. It creates [Process] values for argv slices and copies
// files off the peer. Two implementations are provided:
//
//   - [LocalConnection] runs commands on this machine with os/exec, or under a
//     pseudo-terminal when a terminal type is requested.
//   - [SSHConnection] runs commands on a remote peer over SSH, quoting argv
//     for the remote shell of the target OS.
//
// Processes stream their output line by line to an [OutputHandler]. Lines from
// one stream arrive in order; stdout and stderr are read concurrently, so a
// handler that needs a total order must serialize them itself.
package connection
