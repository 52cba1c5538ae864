// Package hidsvc tracks HID devices attached to the host: it polls the
// device registry, publishes connect/disconnect events, persists
// first/last-seen metadata, and hands out report streams by address.
package hidsvc

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/jochenvg/go-udev"
	"github.com/neuroplastio/hidhost/internal/configsvc"
	"github.com/neuroplastio/hidhost/pkg/bus"
	"github.com/neuroplastio/hidhost/pkg/hidhost"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dgraph-io/badger"
)

var ErrDeviceNotFound = errors.New("hidsvc: device not found")

// EventType distinguishes device lifecycle events.
type EventType uint8

const (
	DeviceConnected EventType = iota
	DeviceDisconnected
)

// Event is published on the device bus, keyed by address.
type Event struct {
	Type EventType
	// Record is set for DeviceConnected and nil for DeviceDisconnected.
	Record *hidhost.DeviceRecord
}

type DeviceBus = bus.Bus[string, Event]

var defaultOptions = serviceOptions{
	pollInterval: 1 * time.Second,
	now:          time.Now,
}

type serviceOptions struct {
	pollInterval time.Duration
	now          func() time.Time
}

type Option func(*serviceOptions)

func WithPollInterval(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.pollInterval = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		o.now = now
	}
}

type Service struct {
	log     *zap.Logger
	db      *badger.DB
	options serviceOptions

	config      *configsvc.Service
	virtualPath string

	udev  *udev.Udev
	ready chan struct{}

	bus     *DeviceBus
	devices *xsync.MapOf[string, *hidhost.DeviceRecord]
	virtual *xsync.MapOf[string, *virtualDevice]
}

func New(db *badger.DB, log *zap.Logger, config *configsvc.Service, virtualPath string, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:         log,
		db:          db,
		options:     options,
		config:      config,
		virtualPath: virtualPath,
		ready:       make(chan struct{}),
		bus:         bus.New[string, Event](log),
		devices:     xsync.NewMapOf[string, *hidhost.DeviceRecord](),
		virtual:     xsync.NewMapOf[string, *virtualDevice](),
	}
}

// Address derives the bus key of a discovered device.
func Address(rec *hidhost.DeviceRecord) string {
	return fmt.Sprintf("%04x:%04x:%s", rec.VendorID, rec.ProductID, filepath.Base(rec.Path))
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start runs the hotplug poll loop until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.udev = &udev.Udev{}

	if err := s.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device bus: %w", err)
	}

	s.log.Info("Starting HID service")
	select {
	case <-ctx.Done():
		return nil
	case <-s.config.Ready():
	}

	virtualCfg, err := configsvc.Watch(s.config, s.virtualPath, VirtualConfig{}, func(cfg VirtualConfig, err error) {
		s.onVirtualConfigChange(ctx, cfg, err)
	})
	if err != nil {
		return fmt.Errorf("failed to register virtual device config: %w", err)
	}
	if err := s.refreshVirtual(ctx, virtualCfg); err != nil {
		return fmt.Errorf("failed to create virtual devices: %w", err)
	}
	defer s.closeVirtual()

	if err := s.refreshDevices(ctx); err != nil {
		return fmt.Errorf("failed to scan HID devices: %w", err)
	}

	close(s.ready)
	s.log.Info("HID service started")

	pollTicker := time.NewTicker(s.options.pollInterval)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			if err := s.refreshDevices(ctx); err != nil {
				s.log.Error("failed to refresh HID devices", zap.Error(err))
			}
		}
	}
}

func (s *Service) refreshDevices(ctx context.Context) error {
	records, err := hidhost.Enumerate(s.udev)
	if err != nil {
		return err
	}
	current := make(map[string]*hidhost.DeviceRecord, len(records))
	for _, rec := range records {
		current[Address(rec)] = rec
	}

	known := make(map[string]struct{})
	s.devices.Range(func(addr string, _ *hidhost.DeviceRecord) bool {
		known[addr] = struct{}{}
		return true
	})
	currentSet := make(map[string]struct{}, len(current))
	for addr := range current {
		currentSet[addr] = struct{}{}
	}
	added, removed := diffKnown(known, currentSet)

	for _, addr := range removed {
		s.devices.Delete(addr)
		s.log.Debug("device disconnected", zap.String("address", addr))
		s.bus.Publish(ctx, addr, Event{Type: DeviceDisconnected})
	}
	for _, addr := range added {
		rec := current[addr]
		s.devices.Store(addr, rec)
		if _, err := s.recordSeen(addr, rec); err != nil {
			s.log.Error("failed to persist device metadata", zap.Error(err))
		}
		s.log.Debug("device connected",
			zap.String("address", addr),
			zap.String("product", rec.Product),
			zap.Bool("usesReportId", rec.UsesReportID))
		s.bus.Publish(ctx, addr, Event{Type: DeviceConnected, Record: rec})
	}
	return nil
}

// diffKnown computes the connect/disconnect sets between two scans.
func diffKnown(known, current map[string]struct{}) (added, removed []string) {
	for addr := range current {
		if _, ok := known[addr]; !ok {
			added = append(added, addr)
		}
	}
	for addr := range known {
		if _, ok := current[addr]; !ok {
			removed = append(removed, addr)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Devices lists the currently connected devices sorted by address.
func (s *Service) Devices() []*hidhost.DeviceRecord {
	var records []*hidhost.DeviceRecord
	s.devices.Range(func(_ string, rec *hidhost.DeviceRecord) bool {
		records = append(records, rec)
		return true
	})
	sort.Slice(records, func(i, j int) bool {
		return Address(records[i]) < Address(records[j])
	})
	return records
}

// Get returns the record of a connected device.
func (s *Service) Get(addr string) (*hidhost.DeviceRecord, error) {
	rec, ok := s.devices.Load(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, addr)
	}
	return rec, nil
}

// Open opens a report stream to a connected device.
func (s *Service) Open(addr string, cfg hidhost.StreamConfig) (*hidhost.Stream, error) {
	rec, err := s.Get(addr)
	if err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = s.log.Named("stream")
	}
	return rec.Open(cfg)
}

// FetchString retrieves a USB string descriptor from a connected device.
func (s *Service) FetchString(addr string, index uint8) (string, error) {
	rec, err := s.Get(addr)
	if err != nil {
		return "", err
	}
	return rec.FetchString(index)
}

// Subscribe delivers lifecycle events for the given addresses, or all
// devices when none are given.
func (s *Service) Subscribe(ctx context.Context, addrs ...string) <-chan bus.Message[string, Event] {
	return s.bus.Subscribe(ctx, addrs...)
}

func (s *Service) closeVirtual() {
	var errs error
	s.virtual.Range(func(id string, dev *virtualDevice) bool {
		errs = multierr.Append(errs, dev.Close())
		s.virtual.Delete(id)
		return true
	})
	if errs != nil {
		s.log.Error("failed to close virtual devices", zap.Error(errs))
	}
}
