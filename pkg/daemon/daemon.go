// Package daemon wires the HID host services together.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger"
	"github.com/neuroplastio/hidhost/internal/configsvc"
	"github.com/neuroplastio/hidhost/internal/hidsvc"
	"github.com/neuroplastio/hidhost/pkg/bus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	DataDir       string
	VirtualConfig string
}

type Daemon struct {
	config Config

	log       *zap.Logger
	db        *badger.DB
	configSvc *configsvc.Service
	hidSvc    *hidsvc.Service
}

func New(config Config) (*Daemon, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	configSvc := configsvc.New(logger.Named("config"))
	hidSvc := hidsvc.New(db, logger.Named("hid"), configSvc, config.VirtualConfig)

	return &Daemon{
		config:    config,
		log:       logger,
		db:        db,
		configSvc: configSvc,
		hidSvc:    hidSvc,
	}, nil
}

func (d *Daemon) HID() *hidsvc.Service {
	return d.hidSvc
}

func (d *Daemon) Logger() *zap.Logger {
	return d.log
}

// Run starts every service and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	// Subscribe before the HID service starts so the connect events of
	// the initial scan are not missed.
	events := d.hidSvc.Subscribe(ctx)
	g.Go(func() error {
		return d.configSvc.Start(ctx)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-d.configSvc.Ready():
		}
		return d.hidSvc.Start(ctx)
	})
	g.Go(func() error {
		d.logEvents(ctx, events)
		return nil
	})
	err := g.Wait()
	return multierr.Append(err, d.db.Close())
}

func (d *Daemon) logEvents(ctx context.Context, events <-chan bus.Message[string, hidsvc.Event]) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-events:
			switch msg.Message.Type {
			case hidsvc.DeviceConnected:
				rec := msg.Message.Record
				d.log.Info("device connected",
					zap.String("address", msg.Key),
					zap.String("product", rec.Product),
					zap.Int("maxInputLen", rec.MaxInputLen),
					zap.Int("maxOutputLen", rec.MaxOutputLen),
					zap.Int("maxFeatureLen", rec.MaxFeatureLen),
					zap.Bool("usesReportId", rec.UsesReportID))
			case hidsvc.DeviceDisconnected:
				d.log.Info("device disconnected", zap.String("address", msg.Key))
			}
		}
	}
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}
