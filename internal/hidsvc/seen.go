package hidsvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/neuroplastio/hidhost/pkg/hidhost"
)

const seenKeyPrefix = "hid/seen/"

// SeenDevice is the persisted record of a device the host has observed,
// surviving disconnects and daemon restarts.
type SeenDevice struct {
	Address     string                 `json:"address"`
	Identity    hidhost.DeviceIdentity `json:"identity"`
	Name        string                 `json:"name"`
	FirstSeenAt time.Time              `json:"firstSeenAt"`
	LastSeenAt  time.Time              `json:"lastSeenAt"`
}

func seenKey(addr string) []byte {
	return []byte(seenKeyPrefix + addr)
}

func deviceName(rec *hidhost.DeviceRecord) string {
	switch {
	case rec.Manufacturer != "" && rec.Product != "":
		return rec.Manufacturer + " " + rec.Product
	case rec.Product != "":
		return rec.Product
	default:
		return rec.DeviceIdentity.String()
	}
}

func (s *Service) recordSeen(addr string, rec *hidhost.DeviceRecord) (SeenDevice, error) {
	var dev SeenDevice
	now := s.options.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := seenKey(addr)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			dev = SeenDevice{FirstSeenAt: now}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &dev)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device: %w", err)
			}
		}
		dev.Address = addr
		dev.Identity = rec.DeviceIdentity
		dev.Name = deviceName(rec)
		if dev.FirstSeenAt.IsZero() {
			dev.FirstSeenAt = now
		}
		dev.LastSeenAt = now
		b, err := json.Marshal(dev)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return SeenDevice{}, fmt.Errorf("failed to record device: %w", err)
	}
	return dev, nil
}

// Seen lists every device the host has ever observed.
func (s *Service) Seen() ([]SeenDevice, error) {
	var devices []SeenDevice
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte(seenKeyPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var dev SeenDevice
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dev)
			})
			if err != nil {
				return err
			}
			devices = append(devices, dev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list seen devices: %w", err)
	}
	return devices, nil
}
