package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/assetsync/internal/asset"
	"github.com/telhawk-systems/assetsync/internal/formatter"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 250000000, time.UTC)

func newMapper() *Mapper {
	return NewMapper("axonius-assets").WithClock(func() time.Time { return fixedNow })
}

func strPtr(s string) *string { return &s }

func TestMap_FullRecord(t *testing.T) {
	rec := asset.Record{
		Hostname:     strPtr("web-01"),
		IPAddresses:  []string{"10.0.0.1", "10.0.0.2"},
		MACAddresses: []string{"aa:bb:cc:dd:ee:ff"},
		LastSeen:     strPtr("2024-01-15T10:30:00.000000Z"),
	}

	docs := newMapper().Map([]asset.Record{rec})
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "axonius-assets", doc.Index)
	assert.Equal(t, "2024-01-15T10:30:00.000000Z", doc.Source.Timestamp)
	assert.Equal(t, "10.0.0.1", *doc.Source.Host.IP)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", *doc.Source.Host.MAC)
	assert.Equal(t, "web-01", *doc.Source.Host.Hostname)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, doc.Source.Network.IPAddresses)
	assert.Equal(t, "2024-01-15T10:30:00.000000Z", *doc.Source.Axonius.LastSeen)
	assert.Equal(t, "2024-03-01T12:30:00.250000Z", doc.Source.Axonius.IngestionTime)
}

func TestMap_MissingLastSeenUsesNow(t *testing.T) {
	docs := newMapper().Map([]asset.Record{{IPAddresses: []string{"192.168.1.5"}}})
	require.Len(t, docs, 1)

	assert.Equal(t, "2024-03-01T12:30:00.250000Z", docs[0].Source.Timestamp)
	assert.Nil(t, docs[0].Source.Axonius.LastSeen)
	assert.Nil(t, docs[0].Source.Host.Hostname)
}

func TestMap_SkipsNonViable(t *testing.T) {
	records := []asset.Record{
		{MACAddresses: []string{"aa:bb:cc:dd:ee:ff"}},
		{Hostname: strPtr("db-01")},
	}

	docs := newMapper().Map(records)
	require.Len(t, docs, 1)
	assert.Equal(t, "db-01", *docs[0].Source.Host.Hostname)
}

func TestMap_Empty(t *testing.T) {
	assert.Empty(t, newMapper().Map(nil))
}

func TestSource_JSONShape(t *testing.T) {
	res := formatter.Format(asset.RawRecord{formatter.PathHostname: "HOST-01 "})
	require.True(t, res.OK())

	docs := newMapper().Map([]asset.Record{res.Record})
	require.Len(t, docs, 1)

	data, err := json.Marshal(docs[0].Source)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	host := got["host"].(map[string]any)
	assert.Equal(t, "host-01", host["hostname"])
	assert.Contains(t, host, "ip")
	assert.Nil(t, host["ip"])
	assert.Nil(t, host["mac"])

	network := got["network"].(map[string]any)
	assert.Equal(t, []any{}, network["ip_addresses"])
	assert.Equal(t, []any{}, network["mac_addresses"])

	meta := got["axonius"].(map[string]any)
	assert.Contains(t, meta, "last_seen")
	assert.Nil(t, meta["last_seen"])
	assert.Equal(t, "2024-03-01T12:30:00.250000Z", meta["ingestion_time"])
	assert.Equal(t, "2024-03-01T12:30:00.250000Z", got["@timestamp"])
}

func TestMap_UserRecord(t *testing.T) {
	res := formatter.FormatUser(asset.RawRecord{
		formatter.PathUsername:  "alice",
		formatter.PathEmail:     "alice@corp.example",
		formatter.PathLastLogon: "2024-02-10T09:00:00Z",
	})
	require.True(t, res.OK())

	docs := newMapper().Map([]asset.Record{res.Record})
	require.Len(t, docs, 1)

	src := docs[0].Source
	require.NotNil(t, src.User)
	assert.Equal(t, "alice", *src.User.Name)
	assert.Equal(t, "alice@corp.example", *src.User.Email)
	assert.Nil(t, src.User.Domain)
	assert.Nil(t, src.Host.Hostname)
	assert.Equal(t, "2024-02-10T09:00:00.000000Z", src.Timestamp)
	assert.Equal(t, []string{}, src.Network.IPAddresses)
}

func TestSource_DeviceHasNoUserField(t *testing.T) {
	docs := newMapper().Map([]asset.Record{{Hostname: strPtr("web-01")}})
	require.Len(t, docs, 1)

	data, err := json.Marshal(docs[0].Source)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"user"`)
}
