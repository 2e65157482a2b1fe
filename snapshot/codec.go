package snapshot

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// gzipMagic leading bytes of a gzip stream
var gzipMagic = []byte{0x1f, 0x8b}

// checksumOf hex encoded SHA-256 of a payload
func checksumOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

/*
encodeContents serialize snapshot contents as gzip compressed JSON

	@param contents models.SnapshotContents - the contents
	@returns the payload and its checksum
*/
func encodeContents(contents models.SnapshotContents) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if err := json.NewEncoder(writer).Encode(&contents); err != nil {
		return nil, "", fmt.Errorf("failed to encode snapshot contents [%w]", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to compress snapshot contents [%w]", err)
	}
	payload := buf.Bytes()
	return payload, checksumOf(payload), nil
}

/*
decodePayload verify and parse a stored snapshot payload

	@param payload []byte - gzip compressed JSON payload
	@param checksum string - expected checksum
	@returns the contents
*/
func decodePayload(payload []byte, checksum string) (models.SnapshotContents, error) {
	if checksumOf(payload) != checksum {
		return models.SnapshotContents{}, fmt.Errorf("checksum mismatch [%w]", models.ErrSnapshotCorrupt)
	}
	raw, err := inflate(payload)
	if err != nil {
		return models.SnapshotContents{}, err
	}
	var contents models.SnapshotContents
	if err := json.Unmarshal(raw, &contents); err != nil {
		return models.SnapshotContents{}, fmt.Errorf(
			"snapshot payload is not valid JSON [%w: %s]", models.ErrSnapshotCorrupt, err,
		)
	}
	if contents.FormatVersion != models.SnapshotFormatVersion {
		return models.SnapshotContents{}, fmt.Errorf(
			"unsupported snapshot format version %d [%w]", contents.FormatVersion, models.ErrSnapshotCorrupt,
		)
	}
	if contents.Collections == nil {
		return models.SnapshotContents{}, fmt.Errorf(
			"snapshot payload has no collections [%w]", models.ErrSnapshotCorrupt,
		)
	}
	return contents, nil
}

// inflate decompress a gzip payload
func inflate(payload []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("payload is not gzip compressed [%w: %s]", models.ErrSnapshotCorrupt, err)
	}
	defer func() { _ = reader.Close() }()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("payload failed to decompress [%w: %s]", models.ErrSnapshotCorrupt, err)
	}
	return raw, nil
}

/*
parseExternalDump parse a full dump from an external source

Two layouts are accepted, either plain or gzip compressed: this system's own snapshot
contents, or a JSON object keyed directly by collection name with an optional "history"
key. Missing collections are reported so the caller can warn about them.

	@param payload []byte - the dump
	@returns the contents and the names of the missing collections
*/
func parseExternalDump(payload []byte) (models.SnapshotContents, []models.Collection, error) {
	raw := payload
	if bytes.HasPrefix(payload, gzipMagic) {
		var err error
		if raw, err = inflate(payload); err != nil {
			return models.SnapshotContents{}, nil, err
		}
	}

	top := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &top); err != nil {
		return models.SnapshotContents{}, nil, fmt.Errorf(
			"import payload is not a JSON object [%w: %s]", models.ErrSnapshotCorrupt, err,
		)
	}

	contents := models.SnapshotContents{
		FormatVersion: models.SnapshotFormatVersion,
		Collections:   map[models.Collection][]json.RawMessage{},
	}

	if _, ok := top["collections"]; ok {
		// Own snapshot layout
		if err := json.Unmarshal(raw, &contents); err != nil {
			return models.SnapshotContents{}, nil, fmt.Errorf(
				"import payload is malformed [%w: %s]", models.ErrSnapshotCorrupt, err,
			)
		}
		if contents.Collections == nil {
			contents.Collections = map[models.Collection][]json.RawMessage{}
		}
	} else {
		for key, value := range top {
			collection := models.Collection(key)
			switch {
			case collection == models.CollectionHistory:
				if err := json.Unmarshal(value, &contents.History); err != nil {
					return models.SnapshotContents{}, nil, fmt.Errorf(
						"import history is malformed [%w: %s]", models.ErrSnapshotCorrupt, err,
					)
				}
			case collection.IsRecordCollection():
				var records []json.RawMessage
				if err := json.Unmarshal(value, &records); err != nil {
					return models.SnapshotContents{}, nil, fmt.Errorf(
						"import collection '%s' is not a list [%w: %s]", key, models.ErrSnapshotCorrupt, err,
					)
				}
				contents.Collections[collection] = records
			default:
				log.WithField("key", key).Warn("Ignoring unknown key in import payload")
			}
		}
	}

	missing := []models.Collection{}
	for _, collection := range models.RecordCollections {
		if _, ok := contents.Collections[collection]; !ok {
			missing = append(missing, collection)
		}
	}
	return contents, missing, nil
}

/*
decodeRecords turn snapshot contents into typed, validated records

	@param contents models.SnapshotContents - the contents
	@param validate *validator.Validate - record validator
	@returns the decoded snapshot
*/
func decodeRecords(
	contents models.SnapshotContents, validate *validator.Validate,
) (models.DecodedSnapshot, error) {
	result := models.DecodedSnapshot{
		CapturedAt: contents.CapturedAt,
		Records:    map[models.Collection][]models.Record{},
		History:    contents.History,
	}

	for collection, rawRecords := range contents.Collections {
		if !collection.IsRecordCollection() {
			return models.DecodedSnapshot{}, fmt.Errorf(
				"unknown collection '%s' [%w]", collection, models.ErrSnapshotCorrupt,
			)
		}
		seen := map[string]bool{}
		records := make([]models.Record, 0, len(rawRecords))
		for idx, rawRecord := range rawRecords {
			record, err := models.NewRecord(collection)
			if err != nil {
				return models.DecodedSnapshot{}, err
			}
			if err := json.Unmarshal(rawRecord, record); err != nil {
				return models.DecodedSnapshot{}, fmt.Errorf(
					"%s record #%d is malformed [%w: %s]", collection, idx, models.ErrSnapshotCorrupt, err,
				)
			}
			if err := validate.Struct(record); err != nil {
				return models.DecodedSnapshot{}, fmt.Errorf(
					"%s record #%d is not valid [%w: %s]", collection, idx, models.ErrSnapshotCorrupt, err,
				)
			}
			id := record.GetMeta().ID
			if seen[id] {
				return models.DecodedSnapshot{}, fmt.Errorf(
					"%s record ID %s repeats [%w]", collection, id, models.ErrSnapshotCorrupt,
				)
			}
			seen[id] = true
			records = append(records, record)
		}
		result.Records[collection] = records
	}

	for _, collection := range models.RecordCollections {
		if _, ok := result.Records[collection]; !ok {
			result.Records[collection] = []models.Record{}
		}
	}

	for idx := range result.History {
		if result.History[idx].ID == "" {
			result.History[idx].ID = ulid.Make().String()
		}
		if err := validate.Struct(&result.History[idx]); err != nil {
			return models.DecodedSnapshot{}, fmt.Errorf(
				"history entry #%d is not valid [%w: %s]", idx, models.ErrSnapshotCorrupt, err,
			)
		}
	}

	return result, nil
}
