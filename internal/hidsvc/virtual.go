package hidsvc

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/psanford/uhid"
	"go.uber.org/zap"
)

// VirtualConfig declares kernel-backed virtual HID devices. Created
// devices surface as ordinary hidraw nodes, so the hotplug scan picks
// them up like real hardware; an echo device doubles as an end-to-end
// test target for report round-trips.
type VirtualConfig struct {
	Devices []VirtualDeviceConfig `json:"devices"`
}

type VirtualDeviceConfig struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	VendorID  uint32 `json:"vendorId"`
	ProductID uint32 `json:"productId"`
	// Descriptor is a hex-encoded report descriptor. Empty selects a
	// vendor-defined 64-byte in/out report layout without report IDs.
	Descriptor string `json:"descriptor"`
	// Echo makes the device inject every received output report back as
	// an input report.
	Echo bool `json:"echo"`
}

// Vendor-defined collection: one 64-byte input and one 64-byte output
// report, no report IDs.
var defaultVirtualDescriptor = []byte{
	0x06, 0x00, 0xff, // Usage Page (Vendor)
	0x09, 0x01, // Usage
	0xa1, 0x01, // Collection (Application)
	0x15, 0x00, //   Logical Minimum (0)
	0x26, 0xff, 0x00, //   Logical Maximum (255)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x40, //   Report Count (64)
	0x09, 0x01, //   Usage
	0x81, 0x02, //   Input
	0x75, 0x08, //   Report Size (8)
	0x95, 0x40, //   Report Count (64)
	0x09, 0x01, //   Usage
	0x91, 0x02, //   Output
	0xc0, // End Collection
}

func (s *Service) onVirtualConfigChange(ctx context.Context, cfg VirtualConfig, err error) {
	if err != nil {
		s.log.Error("failed to parse virtual device config", zap.Error(err))
		return
	}
	if err := s.refreshVirtual(ctx, cfg); err != nil {
		s.log.Error("failed to refresh virtual devices", zap.Error(err))
	}
}

func (s *Service) refreshVirtual(ctx context.Context, cfg VirtualConfig) error {
	next := make(map[string]VirtualDeviceConfig, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		next[dev.ID] = dev
	}

	s.virtual.Range(func(id string, dev *virtualDevice) bool {
		if _, ok := next[id]; !ok {
			s.virtual.Delete(id)
			if err := dev.Close(); err != nil {
				s.log.Error("failed to destroy virtual device", zap.String("id", id), zap.Error(err))
			}
			return true
		}
		delete(next, id)
		return true
	})

	for id, devCfg := range next {
		dev, err := s.createVirtual(devCfg)
		if err != nil {
			return fmt.Errorf("virtual device %s: %w", id, err)
		}
		s.virtual.Store(id, dev)
		s.log.Info("virtual device created", zap.String("id", id), zap.Bool("echo", devCfg.Echo))
	}
	return nil
}

func (s *Service) createVirtual(cfg VirtualDeviceConfig) (*virtualDevice, error) {
	descriptor := defaultVirtualDescriptor
	if cfg.Descriptor != "" {
		raw, err := hex.DecodeString(cfg.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("malformed descriptor hex: %w", err)
		}
		descriptor = raw
	}

	uhidDev, err := uhid.NewDevice(cfg.ID, descriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to create uhid device: %w", err)
	}
	uhidDev.Data.Bus = 0x03
	uhidDev.Data.VendorID = cfg.VendorID
	uhidDev.Data.ProductID = cfg.ProductID

	ctx, cancel := context.WithCancel(context.Background())
	events, err := uhidDev.Open(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open uhid device: %w", err)
	}

	dev := &virtualDevice{
		log:    s.log.Named("virtual").With(zap.String("id", cfg.ID)),
		echo:   cfg.Echo,
		ctx:    ctx,
		cancel: cancel,
		dev:    uhidDev,
		events: events,
	}
	go dev.run()
	return dev, nil
}

type virtualDevice struct {
	log    *zap.Logger
	echo   bool
	ctx    context.Context
	cancel context.CancelFunc
	dev    *uhid.Device
	events chan uhid.Event

	// last holds the most recent report per uhid report type, answered
	// back on GetReport.
	last [3][]byte
}

type virtualReportType uint8

const (
	virtualReportFeature virtualReportType = 0
	virtualReportOutput  virtualReportType = 1
	virtualReportInput   virtualReportType = 2
)

const virtualReportSize = 4096

type getReportRequest struct {
	RequestID  uint32
	ReportID   uint8
	ReportType virtualReportType
}

type getReportReply struct {
	EventType uhid.EventType
	RequestID uint32
	Error     uint16
	Size      uint16
	Data      [virtualReportSize]byte
}

type setReportRequest struct {
	RequestID  uint32
	ReportID   uint8
	ReportType virtualReportType
	Size       uint16
	Data       [virtualReportSize]byte
}

type setReportReply struct {
	EventType uhid.EventType
	RequestID uint32
	Error     uint16
}

func (d *virtualDevice) run() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case event := <-d.events:
			switch event.Type {
			case uhid.Output:
				data := make([]byte, len(event.Data))
				copy(data, event.Data)
				d.last[virtualReportOutput] = data
				if d.echo {
					if err := d.dev.InjectEvent(data); err != nil {
						d.log.Error("failed to echo report", zap.Error(err))
					}
				}
			case uhid.GetReport:
				d.handleGetReport(event)
			case uhid.SetReport:
				d.handleSetReport(event)
			}
		}
	}
}

func (d *virtualDevice) handleGetReport(event uhid.Event) {
	var req getReportRequest
	if err := binary.Read(bytes.NewReader(event.Data), binary.LittleEndian, &req); err != nil {
		d.log.Error("failed to read GetReport request", zap.Error(err))
		return
	}
	reply := getReportReply{
		EventType: uhid.GetReportReply,
		RequestID: req.RequestID,
	}
	if int(req.ReportType) < len(d.last) && d.last[req.ReportType] != nil {
		data := d.last[req.ReportType]
		reply.Size = uint16(len(data))
		copy(reply.Data[:], data)
	} else {
		reply.Error = 1
	}
	if err := d.dev.WriteEvent(reply); err != nil {
		d.log.Error("failed to write GetReport reply", zap.Error(err))
	}
}

func (d *virtualDevice) handleSetReport(event uhid.Event) {
	var req setReportRequest
	if err := binary.Read(bytes.NewReader(event.Data), binary.LittleEndian, &req); err != nil {
		d.log.Error("failed to read SetReport request", zap.Error(err))
		return
	}
	data := make([]byte, req.Size)
	copy(data, req.Data[:])
	if int(req.ReportType) < len(d.last) {
		d.last[req.ReportType] = data
	}
	reply := setReportReply{
		EventType: uhid.SetReportReply,
		RequestID: req.RequestID,
	}
	if err := d.dev.WriteEvent(reply); err != nil {
		d.log.Error("failed to write SetReport reply", zap.Error(err))
	}
}

func (d *virtualDevice) Close() error {
	d.cancel()
	return d.dev.Close()
}
