// Package hub owns the authenticated session against the eLan hub.
//
// Ownership boundary:
// - login and the AuthAPI session cookie
// - REST GET/PUT with bounded retry and re-login
// - the websocket change stream
//
// Session lifecycle:
// - disconnected -> authenticating -> connected
// - any I/O failure drops back to disconnected; only Close is terminal
// - concurrent Connect calls collapse into a single login attempt
//
// No caller outside this package sees or sets the session credential.
package hub
