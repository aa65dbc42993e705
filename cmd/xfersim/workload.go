package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
	"github.com/ardnew/usbxfer/xfer"
)

var errMismatch = errors.New("loopback data mismatch")

// pollInterval paces Group.Poll when the controller raises no completions.
const pollInterval = time.Millisecond

// completion is one finished transfer as seen by its callback.
type completion struct {
	x    *xfer.Transfer
	code pkg.Code
	data []byte
}

// workload drives a read and a write transfer on one endpoint number.
type workload struct {
	number  uint8
	g       *xfer.Group
	rd, wr  *xfer.Transfer
	done    chan completion
	payload []byte
	poll    bool
}

func newWorkload(dev *xfer.Device, number uint8, o options, poll bool) (*workload, error) {
	w := &workload{
		number:  number,
		done:    make(chan completion, 2),
		payload: make([]byte, o.size),
		poll:    poll,
	}

	cfgs := []xfer.Config{
		{
			Type:      hal.TransferBulk,
			Endpoint:  number,
			Direction: xfer.DirIn,
			BufSize:   o.size,
			Timeout:   o.timeout,
			Flags:     xfer.FlagShortXferOK,
			Callback:  w.callback,
		},
		{
			Type:      hal.TransferBulk,
			Endpoint:  number,
			Direction: xfer.DirOut,
			BufSize:   o.size,
			Timeout:   o.timeout,
			Callback:  w.callback,
		},
	}
	g, err := dev.Setup(nil, cfgs)
	if err != nil {
		return nil, fmt.Errorf("setup endpoint %d: %w", number, err)
	}
	w.g, w.rd, w.wr = g, g.Transfer(0), g.Transfer(1)
	return w, nil
}

// callback runs with the client lock held.
func (w *workload) callback(x *xfer.Transfer, state xfer.State) {
	if state == xfer.StateSetup {
		return
	}
	c := completion{x: x, code: x.Code()}
	if x == w.rd {
		c.data = append([]byte(nil), x.Buffer()[:x.ActualLength()]...)
	}
	w.done <- c
}

func (w *workload) run(ctx context.Context, iterations int) error {
	for i := 0; i < iterations; i++ {
		if err := w.roundTrip(ctx, i); err != nil {
			return fmt.Errorf("endpoint %d iteration %d: %w", w.number, i, err)
		}
	}
	pkg.LogDebug(component, "workload finished", "endpoint", w.number, "iterations", iterations)
	return nil
}

func (w *workload) roundTrip(ctx context.Context, iter int) error {
	for i := range w.payload {
		w.payload[i] = byte(iter + i)
	}

	w.g.Lock()
	w.rd.SetFrameLen(0, len(w.payload))
	w.rd.Submit()
	w.wr.Frame(0).CopyIn(0, w.payload)
	w.wr.SetFrameLen(0, len(w.payload))
	w.wr.Submit()
	w.g.Unlock()

	var tick <-chan time.Time
	if w.poll {
		t := time.NewTicker(pollInterval)
		defer t.Stop()
		tick = t.C
	}

	for pending := 2; pending > 0; {
		select {
		case c := <-w.done:
			pending--
			if c.code != pkg.CodeNone {
				return fmt.Errorf("%s transfer: %w", direction(c.x), c.code.Err())
			}
			if c.x == w.rd && !bytes.Equal(c.data, w.payload) {
				return fmt.Errorf("read %d bytes: %w", len(c.data), errMismatch)
			}
		case <-tick:
			w.g.Poll(xfer.HeldNone)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// close cancels whatever is in flight and releases the group.
func (w *workload) close() {
	w.g.Unsetup()
}

func direction(x *xfer.Transfer) string {
	if x.IsRead() {
		return "read"
	}
	return "write"
}
