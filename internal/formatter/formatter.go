// Package formatter maps raw source records onto canonical asset records.
package formatter

import (
	"errors"
	"fmt"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/normalize"
)

// Source field paths.
const (
	PathHostname        = "specific_data.data.hostname"
	PathIPs             = "specific_data.data.network_interfaces.ips_preferred"
	PathMACs            = "specific_data.data.network_interfaces.mac_preferred"
	PathLastSeen        = "specific_data.data.last_seen"
	PathAdapterLastSeen = "adapters_data.axonius_adapter.last_seen"

	PathUsername  = "specific_data.data.username"
	PathEmail     = "specific_data.data.email"
	PathLastLogon = "specific_data.data.last_logon"
	PathDomain    = "specific_data.data.domain"
)

// DefaultDeviceFields are requested when no device fields are configured.
var DefaultDeviceFields = []string{
	PathHostname,
	PathIPs,
	PathMACs,
	PathLastSeen,
	PathAdapterLastSeen,
}

// DefaultUserFields are requested when no user fields are configured.
var DefaultUserFields = []string{
	PathUsername,
	PathEmail,
	PathLastLogon,
	PathDomain,
}

// DropReason explains why a raw record produced no canonical record.
type DropReason string

const (
	// DropNotViable marks records without usable identity: no hostname or IP
	// for devices, no username or email for users.
	DropNotViable DropReason = "not_viable"
	// DropMalformed marks records whose shape could not be read.
	DropMalformed DropReason = "malformed"
)

// ErrMalformed wraps extraction failures.
var ErrMalformed = errors.New("malformed record")

// Result is the outcome of formatting one raw record: either a usable Record
// or a drop marker. A record is usable exactly when Reason is empty.
type Result struct {
	Record asset.Record
	Reason DropReason
	// Err carries the extraction failure for malformed records.
	Err error
	// LastSeenErr is set when last_seen was present but unparseable. The record
	// is still usable; LastSeen is left empty.
	LastSeenErr error
}

// OK reports whether the result carries a usable record.
func (r Result) OK() bool {
	return r.Reason == ""
}

// Func formats one raw record.
type Func func(raw asset.RawRecord) Result

// For returns the formatter for an asset type. Unknown types get the device
// formatter.
func For(assetType string) Func {
	if assetType == asset.TypeUsers {
		return FormatUser
	}
	return Format
}

// Format converts one raw device record. It never panics; malformed input is reported
// through the Result so the caller can skip the record and carry on.
func Format(raw asset.RawRecord) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Reason: DropMalformed, Err: fmt.Errorf("%w: %v", ErrMalformed, p)}
		}
	}()

	hostname, err := field(raw, PathHostname)
	if err != nil {
		return malformed(err)
	}
	ips, err := field(raw, PathIPs)
	if err != nil {
		return malformed(err)
	}
	macs, err := field(raw, PathMACs)
	if err != nil {
		return malformed(err)
	}
	lastSeen, err := field(raw, PathLastSeen)
	if err != nil {
		return malformed(err)
	}
	if !present(lastSeen) {
		if lastSeen, err = field(raw, PathAdapterLastSeen); err != nil {
			return malformed(err)
		}
	}

	rec := asset.Record{
		Hostname:     normalize.Hostname(hostname),
		IPAddresses:  normalize.IPAddresses(ips),
		MACAddresses: normalize.MACAddresses(macs),
	}

	ts, tsErr := normalize.ParseTimestamp(lastSeen)
	if ts != "" {
		rec.LastSeen = &ts
	}

	if !rec.Viable() {
		return Result{Record: rec, Reason: DropNotViable, LastSeenErr: tsErr}
	}
	return Result{Record: rec, LastSeenErr: tsErr}
}

// FormatUser converts one raw user record. The user's last logon stands in for
// last_seen.
func FormatUser(raw asset.RawRecord) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Reason: DropMalformed, Err: fmt.Errorf("%w: %v", ErrMalformed, p)}
		}
	}()

	paths := []string{PathUsername, PathEmail, PathLastLogon, PathDomain}
	values := make(map[string]any, len(paths))
	for _, path := range paths {
		v, err := field(raw, path)
		if err != nil {
			return malformed(err)
		}
		values[path] = v
	}

	rec := asset.Record{
		IPAddresses:  []string{},
		MACAddresses: []string{},
		User: &asset.User{
			Name:   normalize.Text(values[PathUsername]),
			Email:  normalize.Email(values[PathEmail]),
			Domain: normalize.Text(values[PathDomain]),
		},
	}

	ts, tsErr := normalize.ParseTimestamp(values[PathLastLogon])
	if ts != "" {
		rec.LastSeen = &ts
	}

	if !rec.Viable() {
		return Result{Record: rec, Reason: DropNotViable, LastSeenErr: tsErr}
	}
	return Result{Record: rec, LastSeenErr: tsErr}
}

func field(raw asset.RawRecord, path string) (any, error) {
	v, _, err := lookup(raw, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func malformed(err error) Result {
	return Result{Reason: DropMalformed, Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
}
