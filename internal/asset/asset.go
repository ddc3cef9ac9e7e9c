// Package asset holds the value types shared by every pipeline stage.
package asset

// Asset types served by the source API.
const (
	TypeDevices = "devices"
	TypeUsers   = "users"
)

// RawRecord is one asset exactly as the source API returned it. Keys are either
// flat dotted paths (plain-data responses) or nested objects.
type RawRecord map[string]any

// Record is the canonical, schema-stable form of one asset.
type Record struct {
	Hostname     *string  `json:"hostname"`
	IPAddresses  []string `json:"ip_addresses"`
	MACAddresses []string `json:"mac_addresses"`
	LastSeen     *string  `json:"last_seen"`
	// User is set for user assets only.
	User *User `json:"user,omitempty"`
}

// User is the identity of a user asset.
type User struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Domain *string `json:"domain"`
}

// Viable reports whether the record carries enough identity to be emitted:
// a hostname, at least one IP address, or a user name or email.
func (r Record) Viable() bool {
	if r.Hostname != nil || len(r.IPAddresses) > 0 {
		return true
	}
	return r.User != nil && (r.User.Name != nil || r.User.Email != nil)
}

// PrimaryIP returns the first IP address, or nil.
func (r Record) PrimaryIP() *string {
	if len(r.IPAddresses) == 0 {
		return nil
	}
	ip := r.IPAddresses[0]
	return &ip
}

// PrimaryMAC returns the first MAC address, or nil.
func (r Record) PrimaryMAC() *string {
	if len(r.MACAddresses) == 0 {
		return nil
	}
	mac := r.MACAddresses[0]
	return &mac
}

// PageRequest asks the source for one offset/limit window of assets.
type PageRequest struct {
	AssetType string
	Fields    []string
	Limit     int
	Offset    int
}
