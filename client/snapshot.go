package client

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang/glog"

	"go.etcd.io/bbolt"
)

// bucket per entity type, prefixed so unrelated buckets are ignored on load
const snapshotBucketPrefix = "entity."

// SaveSnapshot writes the current entity store contents to a bbolt file so a
// later session can warm-start with last-known values. The file is opened and
// closed per call; snapshots are on-demand, not continuous.
func SaveSnapshot(store *EntityStore, path string) error {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		for _, entityType := range store.EntityTypes() {
			bucketName := []byte(snapshotBucketPrefix + entityType)
			// replace the bucket so deleted-on-server ids do not linger
			if tx.Bucket(bucketName) != nil {
				if err := tx.DeleteBucket(bucketName); err != nil {
					return err
				}
			}
			bucket, err := tx.CreateBucket(bucketName)
			if err != nil {
				return err
			}
			for _, record := range store.All(entityType) {
				recordBytes, err := json.Marshal(record)
				if err != nil {
					return fmt.Errorf("marshal %s %s: %w", entityType, record.Id(), err)
				}
				if err := bucket.Put([]byte(record.Id()), recordBytes); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadSnapshot merges a previously saved snapshot into the store.
// Live data fetched afterwards overwrites snapshot records by id as usual.
func LoadSnapshot(store *EntityStore, path string) error {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	return db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(bucketName []byte, bucket *bbolt.Bucket) error {
			name := string(bucketName)
			if !strings.HasPrefix(name, snapshotBucketPrefix) {
				return nil
			}
			entityType := strings.TrimPrefix(name, snapshotBucketPrefix)

			records := []Record{}
			err := bucket.ForEach(func(k []byte, v []byte) error {
				record := Record{}
				if err := json.Unmarshal(v, &record); err != nil {
					// skip the one record, keep the rest of the snapshot
					glog.Infof("[sn]drop %s %s = %s\n", entityType, string(k), err)
					return nil
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
			store.Merge(entityType, records)
			return nil
		})
	})
}
