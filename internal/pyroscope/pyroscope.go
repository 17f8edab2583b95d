package pyroscope

import (
	"context"
	"strings"

	"github.com/grafana/pyroscope-go"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/logger"
	"go.uber.org/fx"
)

// Service runs the continuous profiler when enabled
type Service struct {
	cfg      *config.PyroscopeConfig
	logger   *logger.Logger
	profiler *pyroscope.Profiler
}

func NewPyroscopeService(cfg *config.Configuration, logger *logger.Logger) *Service {
	return &Service{
		cfg:    &cfg.Pyroscope,
		logger: logger,
	}
}

// RegisterHooks starts profiling with the app and flushes it on stop
func RegisterHooks(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !svc.cfg.Enabled {
				svc.logger.Info("Pyroscope profiling is disabled")
				return nil
			}

			pyroscopeConfig := pyroscope.Config{
				ApplicationName: svc.cfg.ApplicationName,
				ServerAddress:   svc.cfg.ServerAddress,
				ProfileTypes:    svc.profileTypes(),
				SampleRate:      svc.cfg.SampleRate,
				DisableGCRuns:   svc.cfg.DisableGCRuns,
				Logger:          svc,
			}
			if svc.cfg.BasicAuthUser != "" {
				pyroscopeConfig.BasicAuthUser = svc.cfg.BasicAuthUser
				pyroscopeConfig.BasicAuthPassword = svc.cfg.BasicAuthPass
			}

			profiler, err := pyroscope.Start(pyroscopeConfig)
			if err != nil {
				svc.logger.Errorw("failed to start pyroscope", "error", err)
				return err
			}
			svc.profiler = profiler

			svc.logger.Infow("pyroscope profiling started",
				"application_name", svc.cfg.ApplicationName,
				"server_address", svc.cfg.ServerAddress,
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if svc.profiler == nil {
				return nil
			}
			return svc.profiler.Stop()
		},
	})
}

func (s *Service) Debugf(format string, args ...interface{}) {}

func (s *Service) Infof(format string, args ...interface{}) {
	s.logger.Infof("[pyroscope] "+format, args...)
}

func (s *Service) Errorf(format string, args ...interface{}) {
	s.logger.Errorf("[pyroscope] "+format, args...)
}

func (s *Service) profileTypes() []pyroscope.ProfileType {
	if len(s.cfg.ProfileTypes) == 0 {
		return []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileGoroutines,
		}
	}

	known := map[string]pyroscope.ProfileType{
		"cpu":            pyroscope.ProfileCPU,
		"inuse_objects":  pyroscope.ProfileInuseObjects,
		"alloc_objects":  pyroscope.ProfileAllocObjects,
		"inuse_space":    pyroscope.ProfileInuseSpace,
		"alloc_space":    pyroscope.ProfileAllocSpace,
		"goroutines":     pyroscope.ProfileGoroutines,
		"mutex_count":    pyroscope.ProfileMutexCount,
		"mutex_duration": pyroscope.ProfileMutexDuration,
		"block_count":    pyroscope.ProfileBlockCount,
		"block_duration": pyroscope.ProfileBlockDuration,
	}

	var types []pyroscope.ProfileType
	for _, name := range s.cfg.ProfileTypes {
		if pt, ok := known[strings.ToLower(name)]; ok {
			types = append(types, pt)
			continue
		}
		s.logger.Warnw("unknown profile type", "type", name)
	}
	return types
}
