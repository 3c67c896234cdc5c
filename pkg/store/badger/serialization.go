package badger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/marmos91/ecquota/pkg/storage"
	"github.com/marmos91/ecquota/pkg/store"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Serialization Strategy
// ======================
//
// Directory settings are encoded with XDR (RFC 4506). The record is small
// and has a fixed shape, so a compact binary form is preferred over JSON.
//
// XDR has no map type, so per-type quotas are flattened into a list of
// (type, quota) pairs sorted by type. Sorting keeps the encoding
// deterministic for a given set of settings.
//
// The path is not part of the value: it is recovered from the key.

// recordVersion is bumped whenever settingsRecord changes shape.
const recordVersion uint32 = 1

type typeQuotaRecord struct {
	Type  uint32
	Quota int64
}

type settingsRecord struct {
	Version             uint32
	NamespaceQuota      int64
	StorageSpaceQuota   int64
	TypeQuotas          []typeQuotaRecord
	ErasureCodingPolicy string
	StoragePolicy       string
}

func encodeSettings(s store.DirectorySettings) ([]byte, error) {
	rec := settingsRecord{
		Version:             recordVersion,
		NamespaceQuota:      s.NamespaceQuota,
		StorageSpaceQuota:   s.StorageSpaceQuota,
		TypeQuotas:          make([]typeQuotaRecord, 0, len(s.TypeQuotas)),
		ErasureCodingPolicy: s.ErasureCodingPolicy,
		StoragePolicy:       s.StoragePolicy,
	}
	for t, q := range s.TypeQuotas {
		rec.TypeQuotas = append(rec.TypeQuotas, typeQuotaRecord{Type: uint32(t), Quota: q})
	}
	sort.Slice(rec.TypeQuotas, func(i, j int) bool {
		return rec.TypeQuotas[i].Type < rec.TypeQuotas[j].Type
	})

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &rec); err != nil {
		return nil, fmt.Errorf("failed to encode settings for %s: %w", s.Path, err)
	}
	return buf.Bytes(), nil
}

func decodeSettings(path string, data []byte) (store.DirectorySettings, error) {
	var rec settingsRecord
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &rec); err != nil {
		return store.DirectorySettings{}, fmt.Errorf("failed to decode settings for %s: %w", path, err)
	}
	if rec.Version != recordVersion {
		return store.DirectorySettings{}, fmt.Errorf("settings for %s: unsupported record version %d", path, rec.Version)
	}

	s := store.DirectorySettings{
		Path:                path,
		NamespaceQuota:      rec.NamespaceQuota,
		StorageSpaceQuota:   rec.StorageSpaceQuota,
		ErasureCodingPolicy: rec.ErasureCodingPolicy,
		StoragePolicy:       rec.StoragePolicy,
	}
	if len(rec.TypeQuotas) > 0 {
		s.TypeQuotas = make(map[storage.StorageType]int64, len(rec.TypeQuotas))
		for _, tq := range rec.TypeQuotas {
			t := storage.StorageType(tq.Type)
			if !t.Valid() {
				return store.DirectorySettings{}, fmt.Errorf("settings for %s: invalid storage type %d", path, tq.Type)
			}
			s.TypeQuotas[t] = tq.Quota
		}
	}
	return s, nil
}

func encodeVersion() ([]byte, error) {
	var buf bytes.Buffer
	v := recordVersion
	if _, err := xdr.Marshal(&buf, &v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeVersion(data []byte) (uint32, error) {
	var v uint32
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &v); err != nil {
		return 0, err
	}
	return v, nil
}
