// Package commands is the feed client CLI.
//
//	feed keygen -p secret
//	feed post "hello" -o hello.json -p secret
//	feed request <owner> -p secret
//	feed approve <requester> -p secret
//	feed view hello.json -p secret
//
// The passphrase may also come from PF_PASSPHRASE.
package commands
