// mock-esp32 simulates the companion controller for bench and
// integration work: it serves the 6-byte command protocol, runs the
// velocity loop against a simulated rotation stage, and emits the
// framed IMU packets.
//
// Usage:
//
//	mock-esp32 -listen :8432            # serve over TCP
//	mock-esp32 -device /dev/ttyUSB1     # serve over a real serial port
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tarm/serial"

	"helical-go-migration/pkg/esp32"
	"helical-go-migration/pkg/rotor"
)

// dutyToPPS converts the simulated drive's PWM magnitude to stage
// speed. Full duty spins well past the zeroing hunt velocity so the
// loop has headroom.
const dutyToPPS = 1000

func main() {
	listenAddr := flag.String("listen", "", "TCP listen address (e.g. :8432)")
	device := flag.String("device", "", "Serial device to serve on")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	trace := flag.Bool("trace", false, "Print every command frame")
	flag.Parse()

	if (*listenAddr == "") == (*device == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -listen or -device is required")
		flag.Usage()
		os.Exit(1)
	}

	sim := newSimulator(*trace)
	go sim.runPlant()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *device != "" {
		port, err := serial.OpenPort(&serial.Config{Name: *device, Baud: *baud})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", *device, err)
			os.Exit(1)
		}
		defer port.Close()
		fmt.Printf("Mock companion on %s @ %d baud\n", *device, *baud)
		go sim.serve(port)
		<-sigCh
		fmt.Println("\nShutting down...")
		return
	}

	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listening on %s: %v\n", *listenAddr, err)
		os.Exit(1)
	}
	defer listener.Close()
	fmt.Printf("Mock companion listening on %s\n", *listenAddr)
	fmt.Println("Press Ctrl+C to stop")

	connCh := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			return
		case conn := <-connCh:
			fmt.Printf("Client connected from %s\n", conn.RemoteAddr())
			go sim.serve(conn)
		}
	}
}

// simulator wraps the protocol device with a plant model: the PWM
// duty spins the stage counter, a beam-break edge fires once per
// revolution, and a synthetic IMU wobbles gently.
type simulator struct {
	mu    sync.Mutex
	dev   *rotor.Device
	out   io.Writer
	trace bool

	start     time.Time
	lastBreak int32
}

func newSimulator(trace bool) *simulator {
	s := &simulator{dev: rotor.NewDevice(), trace: trace, start: time.Now()}
	s.dev.SetSampleSource(s.sample)
	return s
}

// sample synthesizes a level, slowly breathing IMU reading. Called
// from inside the device with s.mu already held.
func (s *simulator) sample() esp32.ImuSample {
	t := time.Since(s.start).Seconds()
	omega := float64(s.dev.Duty()) * dutyToPPS * 2 * math.Pi / rotor.CountsPerRev
	return esp32.ImuSample{
		TimestampUs:     uint32(time.Since(s.start).Microseconds()),
		Ax:              float32(0.01 * math.Sin(t)),
		Ay:              float32(0.01 * math.Cos(t)),
		Az:              9.81,
		Gz:              float32(omega),
		Omega:           float32(omega),
		RadialAccel:     float32(omega * omega * 0.12),
		CorrectiveMassG: 0,
	}
}

// runPlant advances the stage at the control cadence: the current
// duty turns into encoder pulses, and every full revolution trips the
// beam-break sensor. Unsolicited bytes from the device (zeroing
// completion, stream samples) go out on whichever link is connected.
func (s *simulator) runPlant() {
	ticker := time.NewTicker(rotor.LoopInterval)
	defer ticker.Stop()
	dt := rotor.LoopInterval.Seconds()
	for range ticker.C {
		s.mu.Lock()
		pps := int32(float64(s.dev.Duty()) * dutyToPPS)
		if !s.dev.ForwardDir() {
			pps = -pps
		}
		counter := s.dev.Counter(rotor.ThetaEncoder)
		counter.Advance(int32(float64(pps) * dt))

		pos := counter.Position()
		if abs32(pos-s.lastBreak) >= rotor.CountsPerRev {
			s.lastBreak = pos
			s.dev.BeamBreak(time.Now())
		}

		unsolicited := s.dev.Tick()
		out := s.out
		s.mu.Unlock()

		if len(unsolicited) > 0 && out != nil {
			out.Write(unsolicited)
		}
	}
}

// serve reads 6-byte command frames until the link drops.
func (s *simulator) serve(link io.ReadWriteCloser) {
	defer link.Close()

	s.mu.Lock()
	s.out = link
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.out == link {
			s.out = nil
		}
		s.mu.Unlock()
	}()

	frame := make([]byte, esp32.FrameSize)
	for {
		if _, err := io.ReadFull(link, frame); err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "Link read: %v\n", err)
			}
			return
		}
		if s.trace {
			fmt.Printf("<- % X\n", frame)
		}

		s.mu.Lock()
		resp := s.dev.Command(frame)
		s.mu.Unlock()

		if len(resp) > 0 {
			if s.trace {
				fmt.Printf("-> % X\n", resp)
			}
			if _, err := link.Write(resp); err != nil {
				fmt.Fprintf(os.Stderr, "Link write: %v\n", err)
				return
			}
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
