//go:build linux

package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"

	"tankdrive/internal/analog"
	"tankdrive/internal/command"
	"tankdrive/internal/config"
	"tankdrive/internal/core"
	"tankdrive/internal/hardware"
	"tankdrive/internal/logger"
	"tankdrive/internal/messaging"
	"tankdrive/internal/motor"
)

func main() {
	// Service log level; -1 keeps the configured level
	var serviceLogLevel int
	flag.IntVar(&serviceLogLevel, "log", -1, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")

	var configPath string
	flag.StringVar(&configPath, "config", "", "Config file (default "+config.DefaultPath+")")

	flag.Parse()

	// Create standard logger with appropriate format
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		stdLogger.Fatalf("Failed to load config: %v", err)
	}
	if serviceLogLevel >= 0 {
		cfg.LogLevel = serviceLogLevel
	}

	// Create leveled logger
	l := logger.NewLogger(stdLogger, logger.LogLevel(cfg.LogLevel))

	l.Infof("Starting tankdrive...")

	hw, err := openHardware(cfg, l)
	if err != nil {
		l.Fatalf("Failed to open hardware: %v", err)
	}

	var redis core.MessagingClient
	if cfg.Redis.Addr != "" {
		client := messaging.NewRedisClient(cfg.Redis.Addr, l.WithTag("redis"), messaging.Callbacks{})
		if err := client.Connect(); err != nil {
			// the control loop is the safety mechanism; run without Redis
			l.Warnf("Continuing without Redis: %v", err)
			client.Close()
		} else {
			redis = client
		}
	}

	system, err := core.NewTankDrive(core.Deps{
		IO:        hw.io,
		Messaging: redis,
		Scheduler: hardware.SystemClock{},
		Left:      hw.left,
		Right:     hw.right,
		PotL:      hw.potL,
		PotR:      hw.potR,
		Commands:  command.NewTokenizer(hw.uart),
		Logger:    l,
	}, core.Options{
		TickPeriod:        cfg.Timing.Tick(),
		AnalogPeriod:      cfg.Timing.Analog(),
		DeadmanTimeout:    cfg.Timing.Deadman(),
		MinDeadmanTimeout: cfg.Timing.MinDeadman(),
		SpeedScale:        core.DefaultOptions().SpeedScale,
		DiagBudget:        cfg.Timing.DiagBudget,
	})
	if err != nil {
		hw.Close()
		l.Fatalf("Failed to create supervisor: %v", err)
	}

	if err := system.Start(context.Background()); err != nil {
		system.Shutdown()
		hw.Close()
		l.Fatalf("Failed to start system: %v", err)
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	if err := system.Shutdown(); err != nil {
		l.Errorf("Shutdown: %v", err)
	}
	if err := hw.Close(); err != nil {
		l.Errorf("Failed to release hardware: %v", err)
	}
	l.Infof("Shutdown complete")
}

type hardwareSet struct {
	io      *hardware.LinuxHardwareIO
	left    *motor.Motor
	right   *motor.Motor
	potL    *analog.Input
	potR    *analog.Input
	uart    *hardware.UART
	closers []io.Closer
}

func (h *hardwareSet) Close() error {
	var err error
	for i := len(h.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, h.closers[i].Close())
	}
	if h.io != nil {
		err = multierr.Append(err, h.io.Cleanup())
	}
	return err
}

func openHardware(cfg *config.Config, l *logger.Logger) (*hardwareSet, error) {
	hw := &hardwareSet{}
	opened := false
	defer func() {
		if !opened {
			hw.Close()
		}
	}()

	var err error
	hw.io = hardware.NewLinuxHardwareIO(l.WithTag("hw"),
		config.LineMappings(cfg.Outputs), config.LineMappings(cfg.Inputs))
	if err = hw.io.Initialize(); err != nil {
		return nil, err
	}

	if hw.left, err = openMotor(hw, "L", cfg.Left, l); err != nil {
		return nil, err
	}
	if hw.right, err = openMotor(hw, "R", cfg.Right, l); err != nil {
		return nil, err
	}

	potL := hardware.IioADC{Device: cfg.PotL.Device, Channel: cfg.PotL.Channel, Bits: cfg.PotL.Bits}
	if hw.potL, err = analog.NewInput(potL, cfg.PotL.Filter); err != nil {
		return nil, err
	}
	potR := hardware.IioADC{Device: cfg.PotR.Device, Channel: cfg.PotR.Channel, Bits: cfg.PotR.Bits}
	if hw.potR, err = analog.NewInput(potR, cfg.PotR.Filter); err != nil {
		return nil, err
	}

	if hw.uart, err = hardware.OpenUART(cfg.UART.Device, cfg.UART.Baud); err != nil {
		return nil, err
	}
	hw.closers = append(hw.closers, hw.uart)
	opened = true
	return hw, nil
}

func openPWM(hw *hardwareSet, p config.PWM) (*hardware.SysfsPWM, error) {
	pwm, err := hardware.OpenSysfsPWM(p.Chip, p.Channel, p.Frequency)
	if err != nil {
		return nil, err
	}
	hw.closers = append(hw.closers, pwm)
	return pwm, nil
}

func openMotor(hw *hardwareSet, id string, m config.Motor, l *logger.Logger) (*motor.Motor, error) {
	mc := motor.Config{ID: id, Coast: m.Coast, MaxPWM: m.MaxPWM}

	pwm, err := openPWM(hw, m.PWM)
	if err != nil {
		return nil, err
	}

	switch m.Binding {
	case config.BindingOpto:
		return motor.NewOptoDrive(mc, pwm, hw.io.Output(m.Fwd), hw.io.Output(m.Rev),
			m.SwitchTime(), hardware.SystemClock{}, l)
	default:
		rev, err := openPWM(hw, m.RevPWM)
		if err != nil {
			return nil, err
		}
		return motor.NewDualPWMDrive(mc, pwm, rev, hardware.SystemClock{}, l)
	}
}
