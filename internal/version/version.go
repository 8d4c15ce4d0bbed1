// ABOUTME: Version constants for the solo daemon
// ABOUTME: Provides the product identity used in logs and UPnP requests
package version

// Version is the current release version
const Version = "0.3.0"

// Product is the product name
const Product = "solo"

// Manufacturer identifies the project
const Manufacturer = "solo project"

// UserAgent returns the identification string sent with SSDP searches
// and GENA subscription requests.
func UserAgent() string {
	return Product + "/" + Version + " UPnP/1.1"
}
