package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"tankdrive/internal/analog"
	"tankdrive/internal/command"
	"tankdrive/internal/config"
	"tankdrive/internal/core"
	"tankdrive/internal/hardware"
	"tankdrive/internal/logger"
	"tankdrive/internal/messaging"
	"tankdrive/internal/motor"
)

// Bench runs the supervisor against simulated hardware: commands are typed
// instead of arriving on the UART, pots and switches are moved by hand.
func main() {
	var logLevel int
	flag.IntVar(&logLevel, "log", 3, "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	var redisAddr string
	flag.StringVar(&redisAddr, "redis", "", "Redis address, empty to run without messaging")
	var quantum uint
	flag.UintVar(&quantum, "quantum", 0, "Simulated PWM resolution in duty counts")
	flag.Parse()

	l := logger.NewLogger(log.New(os.Stdout, "", log.Lmicroseconds|log.Lmsgprefix), logger.LogLevel(logLevel))
	cfg := config.Default()
	clock := hardware.SystemClock{}

	io := hardware.NewSimIO()
	io.SetLevel(hardware.ChannelAnalogOverride, true)
	io.SetLevel(hardware.ChannelDeadman, true)
	io.SetLevel(cfg.Left.Fwd, false)
	io.SetLevel(cfg.Left.Rev, false)

	q := uint16(quantum)
	left, err := motor.NewOptoDrive(motor.DefaultConfig("L"), &hardware.SimPWM{Quantum: q},
		io.Output(cfg.Left.Fwd), io.Output(cfg.Left.Rev), cfg.Left.SwitchTime(), clock, l)
	if err != nil {
		l.Fatalf("Failed to create left motor: %v", err)
	}
	right, err := motor.NewDualPWMDrive(motor.DefaultConfig("R"), &hardware.SimPWM{Quantum: q},
		&hardware.SimPWM{Quantum: q}, clock, l)
	if err != nil {
		l.Fatalf("Failed to create right motor: %v", err)
	}

	adcL := hardware.NewSimADC(32767)
	adcR := hardware.NewSimADC(32767)
	potL, err := analog.NewInput(adcL, cfg.PotL.Filter)
	if err != nil {
		l.Fatalf("Failed to create pot: %v", err)
	}
	potR, err := analog.NewInput(adcR, cfg.PotR.Filter)
	if err != nil {
		l.Fatalf("Failed to create pot: %v", err)
	}

	stream := &hardware.SimStream{}

	var redis core.MessagingClient
	if redisAddr != "" {
		client := messaging.NewRedisClient(redisAddr, l.WithTag("redis"), messaging.Callbacks{})
		if err := client.Connect(); err != nil {
			l.Warnf("Continuing without Redis: %v", err)
			client.Close()
		} else {
			redis = client
		}
	}

	system, err := core.NewTankDrive(core.Deps{
		IO:        io,
		Messaging: redis,
		Scheduler: clock,
		Left:      left,
		Right:     right,
		PotL:      potL,
		PotR:      potR,
		Commands:  command.NewTokenizer(stream),
		Logger:    l,
	}, core.DefaultOptions())
	if err != nil {
		l.Fatalf("Failed to create supervisor: %v", err)
	}
	if err := system.Start(context.Background()); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}
	defer system.Shutdown()

	shell := ishell.New()
	shell.Println("tankdrive bench shell")

	shell.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send <words...>  e.g. send L100 R-100",
		Func: func(c *ishell.Context) {
			stream.WriteString(strings.Join(c.Args, " ") + " ")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "g",
		Help: "g <left> <right>  drive both motors, -65535..65535",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Println("usage: g <left> <right>")
				return
			}
			vl, errL := strconv.Atoi(c.Args[0])
			vr, errR := strconv.Atoi(c.Args[1])
			if errL != nil || errR != nil {
				c.Println("speeds must be integers")
				return
			}
			if err := system.SetSpeeds(vl, vr); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "x",
		Help: "stop both motors",
		Func: func(c *ishell.Context) {
			system.StopAll()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "pot",
		Help: "pot <l|r> <raw 0..65535>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Println("usage: pot <l|r> <raw>")
				return
			}
			raw, err := strconv.ParseUint(c.Args[1], 10, 16)
			if err != nil {
				c.Err(err)
				return
			}
			switch c.Args[0] {
			case "l":
				adcL.Store(uint16(raw))
			case "r":
				adcR.Store(uint16(raw))
			default:
				c.Println("pot must be l or r")
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "override",
		Help: "override <on|off>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println("usage: override <on|off>")
				return
			}
			// switch is active low
			if err := io.SimulateInput(hardware.ChannelAnalogOverride, c.Args[0] != "on"); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "deadman",
		Help: "deadman <hold|release>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println("usage: deadman <hold|release>")
				return
			}
			if err := io.SimulateInput(hardware.ChannelDeadman, c.Args[0] != "hold"); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "show",
		Help: "show [n]  dump motor state, then allow n more diagnostics",
		Func: func(c *ishell.Context) {
			n := 0
			if len(c.Args) == 1 {
				n, _ = strconv.Atoi(c.Args[0])
			}
			for _, m := range []motor.Drive{system.Left(), system.Right()} {
				if n > 0 {
					m.Show(n)
				} else {
					m.ShowState()
				}
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Func: func(c *ishell.Context) {
			s := system.Snapshot()
			c.Printf("state=%s stopped=%v override=%v deadman=%dms led=%v\n",
				s.State, s.Stopped, s.AnalogOverride, s.DeadmanTimeoutMs, system.LED())
			for _, m := range []interface{}{s.Left, s.Right} {
				c.Printf("  %+v\n", m)
			}
		},
	})

	shell.Start()
}
