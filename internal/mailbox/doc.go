// Package mailbox is the gossip transport between peers that share a
// directory.
//
// Every peer appends to a common broadcast log and reads what the others
// wrote. There is no handshake and no server: the directory is the network.
//
//	{dir}/
//	    peers/{peerID}.json                -- registration of live peers
//	    mailbox/broadcast/index.jsonl      -- messages to all peers
//	    mailbox/{peerID}/index.jsonl       -- messages to one peer
//
// Appends take an flock on the mailbox directory so that lines from
// different processes never interleave. Readers keep a byte offset per log
// and only parse complete lines. [Mailbox.Run] wakes on fsnotify events and
// also rescans on a timer, which covers file systems without notifications.
//
// The mailbox does not interpret payloads; see package coordination for the
// claim protocol carried over it.
package mailbox
