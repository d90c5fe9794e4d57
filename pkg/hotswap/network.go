package hotswap

const (
	// CommandPort is the TCP port on which servers accept injection sessions.
	CommandPort = 8887
	// ControlPort is the TCP port on which servers accept control protocol
	// connections from developer tooling.
	ControlPort = 8896
	// MulticastGroup is the multicast group used for rendezvous discovery.
	MulticastGroup = "239.255.255.239"
	// DiscoveryPort is the UDP port used for rendezvous discovery.
	DiscoveryPort = 8887

	// DylibPrefix is the file name prefix of dynamic modules built for
	// injection. Modules are named <prefix><n>.dylib inside the agent's
	// temporary directory.
	DylibPrefix = "eval_injection_"

	// DefaultKey is the shared key used when none is configured. It only
	// keeps unrelated tools off the port; deployments should set their own.
	DefaultKey = "hotswap-local-development"
)
