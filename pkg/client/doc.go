// Package client is the Go SDK for the node registrar.
//
// It wraps the registration API: registering a node, decommissioning it,
// resetting its certificate, and looking up status, environments and
// hostgroups.
//
// # Connecting
//
// Every call is authenticated. Basic credentials are the simplest option:
//
//	c, err := client.New("https://registrar.example.com",
//	    client.WithBasicAuth("deploy", os.Getenv("REGISTRAR_PASSWORD")),
//	)
//
// With WithTokenExchange the client trades the credentials for a bearer token
// on first use and refreshes it 60 seconds before expiry, so the password
// crosses the wire once per token lifetime:
//
//	c, err := client.New(base,
//	    client.WithBasicAuth("deploy", password),
//	    client.WithTokenExchange(),
//	)
//
// # Registering a node
//
//	env, _ := c.EnvironmentID(ctx, "production")
//	hg, _ := c.HostgroupID(ctx, "web")
//	res, err := c.Register(ctx, client.RegisterRequest{
//	    Name:          "web01.example.com",
//	    Certname:      "web01.example.com",
//	    EnvironmentID: *env,
//	    HostgroupID:   *hg,
//	})
//
// Registering a known name with a new certname updates the node and revokes
// the old certificate. Registering a known certname revokes it so the agent
// can request a fresh one.
//
// # Errors
//
// Non-2xx answers are returned as *APIError. IsForbidden and IsNotFound cover
// the common checks:
//
//	if _, err := c.Reset(ctx, "web01.example.com", "deploy"); client.IsForbidden(err) {
//	    // host not on the allow-list, or login mismatch
//	}
package client
