package epd

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi/spitest"
)

type testPins struct {
	dc, cs, rst, busy *gpiotest.Pin
}

func newTestPins() testPins {
	return testPins{
		dc:   &gpiotest.Pin{N: "DC", Num: 25},
		cs:   &gpiotest.Pin{N: "CS", Num: 8, L: gpio.Low},
		rst:  &gpiotest.Pin{N: "RST", Num: 17},
		busy: &gpiotest.Pin{N: "BUSY", Num: 24},
	}
}

func TestPeriphTransportIdleLevels(t *testing.T) {
	p := newTestPins()
	port := &spitest.Record{}
	tr, err := NewPeriphTransport(port, 0, p.dc, p.cs, p.rst, p.busy, clockwork.NewFakeClock())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if !port.Initialized {
		t.Error("SPI port was not connected")
	}
	for _, tc := range []struct {
		pin  *gpiotest.Pin
		want gpio.Level
	}{
		{p.cs, gpio.High},
		{p.dc, gpio.Low},
		{p.rst, gpio.High},
	} {
		if got := tc.pin.Read(); got != tc.want {
			t.Errorf("%s = %s, want %s", tc.pin, got, tc.want)
		}
	}
	if p.busy.P != gpio.Float {
		t.Errorf("busy pull = %s, want float", p.busy.P)
	}
}

func TestPeriphTransportWrite(t *testing.T) {
	p := newTestPins()
	port := &spitest.Record{}
	tr, err := NewPeriphTransport(port, 0, p.dc, p.cs, p.rst, p.busy, clockwork.NewFakeClock())
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range []byte{0x10, 0x44, 0x44} {
		if err := tr.Write(b); err != nil {
			t.Fatal(err)
		}
	}
	want := []conntest.IO{{W: []byte{0x10}}, {W: []byte{0x44}}, {W: []byte{0x44}}}
	if diff := cmp.Diff(want, port.Ops); diff != "" {
		t.Errorf("SPI ops mismatch (-want +got):\n%s", diff)
	}

	_ = p.busy.Out(gpio.Low)
	if got := tr.Busy(); got != gpio.Low {
		t.Errorf("Busy() = %s, want low", got)
	}
}

func TestPeriphTransportDelayUsesClock(t *testing.T) {
	p := newTestPins()
	clock := clockwork.NewFakeClock()
	tr, err := NewPeriphTransport(&spitest.Record{}, 0, p.dc, p.cs, p.rst, p.busy, clock)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		tr.Delay(20 * time.Millisecond)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
		t.Fatal("Delay returned before the clock advanced")
	default:
	}
	clock.Advance(20 * time.Millisecond)
	<-done
}

func TestDriverOverPeriph(t *testing.T) {
	p := newTestPins()
	p.busy.L = gpio.High
	port := &spitest.Record{}
	tr, err := NewPeriphTransport(port, 0, p.dc, p.cs, p.rst, p.busy, clockwork.NewRealClock())
	if err != nil {
		t.Fatal(err)
	}
	d := New(tr, nil)
	if err := d.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Sleep(context.Background()); err != nil {
		t.Fatal(err)
	}

	var want []conntest.IO
	for _, f := range initSequence {
		want = append(want, conntest.IO{W: []byte{byte(f.cmd)}})
		for _, b := range f.data {
			want = append(want, conntest.IO{W: []byte{b}})
		}
	}
	want = append(want,
		conntest.IO{W: []byte{0x04}},
		conntest.IO{W: []byte{0x07}},
		conntest.IO{W: []byte{0xA5}},
	)
	if diff := cmp.Diff(want, port.Ops); diff != "" {
		t.Errorf("SPI ops mismatch (-want +got):\n%s", diff)
	}
	if p.cs.Read() != gpio.High {
		t.Error("CS left asserted")
	}
	if p.dc.Read() != gpio.High {
		t.Error("DC should be high after the last data byte")
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}
