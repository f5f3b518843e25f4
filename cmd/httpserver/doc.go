// Package main (cmd/httpserver) runs the group file transfer service.
//
// The server wires a ledger backend, a content store, the key manager and
// the transfer orchestrator from command-line flags (or GROUPSHARE_* environment
// variables) and serves them over HTTP. Group management calls are signed
// with --signing-key, which must be the group owner on the ledger.
//
// Example usage against a local chain and a pinning service:
//
//	groupshare-server --rpc-addr=http://localhost:8545 \
//	    --contract=0x5FbDB2315678afecb367f032d93F642f64180aa3 \
//	    --signing-key=$GROUPSHARE_SIGNING_KEY \
//	    --store=pinata://api.pinata.cloud \
//	    --store-jwt=$PINATA_JWT \
//	    --admin-token=vault:secret/groupshare#admin_token \
//	    --user-token-secret=vault:secret/groupshare#user_token_secret
//
// Management routes need --admin-token. File routes need --user-token-secret
// (tokens minted with "groupctl user-token") or --trusted-proxy-token when an
// authenticating proxy sets X-User-Id.
//
// Example usage for development, with no external dependencies:
//
//	groupshare-server --ledger=memory --store=file://./data \
//	    --admin-token=dev-admin-token-0001 --trusted-proxy-token=dev-proxy-token-0001
//
// The server shuts down gracefully on SIGINT or SIGTERM.
package main
