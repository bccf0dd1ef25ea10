package cnst

const (
	// AppName is the application name used in logs and metrics namespaces.
	AppName = "helix"
)
