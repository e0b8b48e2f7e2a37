// Package ssh holds the client side of SSH transports: authentication
// sources, host key verification and the handshake over an existing
// connection.
//
// The dialer package uses it to reach a SOCKS proxy that is only visible from
// an SSH jump host, by opening a "direct-tcpip" channel per proxy connection.
//
// Example usage:
//
//	signers, _ := ssh.LoadSigners(ctx, ssh.KeySource{Path: "agent", AgentSocket: os.Getenv("SSH_AUTH_SOCK")})
//	hostKeyCallback, _ := ssh.NewHostKeyCallback("~/.ssh/known_hosts", log)
//
//	client, err := ssh.NewClient(conn, ssh.ClientConfig{
//	    Username:        "user",
//	    Signers:         signers,
//	    HostKeyCallback: hostKeyCallback,
//	}, "jump.example.com:22")
package ssh
