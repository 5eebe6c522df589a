package mongrel2

// Version is the library version.
const Version = "0.4.0"

// VersionString returns the value sent in the Server header of HTTP responses.
func VersionString() string {
	return "Mongrel2-Go/" + Version
}
