// Package document turns canonical asset records into destination documents.
package document

import (
	"time"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/normalize"
)

// Document is one bulk index action: the target index and the document body.
type Document struct {
	Index  string
	Source Source
}

// Source is the indexed document body.
type Source struct {
	Timestamp string   `json:"@timestamp"`
	Host      Host     `json:"host"`
	Network   Network  `json:"network"`
	Axonius   Metadata `json:"axonius"`
	User      *User    `json:"user,omitempty"`
}

// User carries the identity of a user asset.
type User struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Domain *string `json:"domain"`
}

// Host carries the primary identity of the asset.
type Host struct {
	IP       *string `json:"ip"`
	MAC      *string `json:"mac"`
	Hostname *string `json:"hostname"`
}

// Network carries every address seen on the asset.
type Network struct {
	IPAddresses  []string `json:"ip_addresses"`
	MACAddresses []string `json:"mac_addresses"`
}

// Metadata records when the asset was seen and when it was ingested.
type Metadata struct {
	LastSeen      *string `json:"last_seen"`
	IngestionTime string  `json:"ingestion_time"`
}

// Mapper builds documents for a single index.
type Mapper struct {
	index string
	now   func() time.Time
}

// NewMapper creates a Mapper targeting index.
func NewMapper(index string) *Mapper {
	return &Mapper{index: index, now: time.Now}
}

// WithClock replaces the mapper's clock. Used by tests.
func (m *Mapper) WithClock(now func() time.Time) *Mapper {
	m.now = now
	return m
}

// Map converts records into documents. Non-viable records are skipped.
// All documents in one call share the same ingestion time.
func (m *Mapper) Map(records []asset.Record) []Document {
	ingested := normalize.FormatTime(m.now())

	docs := make([]Document, 0, len(records))
	for _, rec := range records {
		if !rec.Viable() {
			continue
		}
		docs = append(docs, Document{Index: m.index, Source: m.source(rec, ingested)})
	}
	return docs
}

func (m *Mapper) source(rec asset.Record, ingested string) Source {
	timestamp := ingested
	if rec.LastSeen != nil {
		timestamp = *rec.LastSeen
	}

	var user *User
	if rec.User != nil {
		user = &User{Name: rec.User.Name, Email: rec.User.Email, Domain: rec.User.Domain}
	}

	return Source{
		Timestamp: timestamp,
		User:      user,
		Host: Host{
			IP:       rec.PrimaryIP(),
			MAC:      rec.PrimaryMAC(),
			Hostname: rec.Hostname,
		},
		Network: Network{
			IPAddresses:  nonNil(rec.IPAddresses),
			MACAddresses: nonNil(rec.MACAddresses),
		},
		Axonius: Metadata{
			LastSeen:      rec.LastSeen,
			IngestionTime: ingested,
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
