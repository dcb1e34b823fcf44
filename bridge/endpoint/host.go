package endpoint

import (
	"context"
	"errors"
	"io"
)

// Collect runs a device-side transfer while a host goroutine copies IN
// packets to w until want bytes have arrived. A device failure aborts the
// endpoint so the host side stops waiting.
func Collect(ctx context.Context, in *In, want int, w io.Writer, run func(context.Context) error) error {
	done := make(chan error, 1)

	go func() {
		for got := 0; got < want; {
			packet, err := in.Receive(ctx)
			if err != nil {
				done <- err
				return
			}
			if _, err := w.Write(packet); err != nil {
				in.Abort()
				done <- err
				return
			}
			got += len(packet)
		}
		done <- nil
	}()

	if err := run(ctx); err != nil {
		in.Abort()
		<-done
		return err
	}
	return <-done
}

// Feed runs a device-side transfer while a host goroutine sends data as
// OUT packets. The host goroutine is stopped once the transfer returns.
func Feed(ctx context.Context, out *Out, data []byte, run func(context.Context) error) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sent := make(chan error, 1)
	go func() {
		sent <- out.Send(sendCtx, data)
	}()

	err := run(ctx)
	cancel()
	if sendErr := <-sent; err == nil && sendErr != nil && !errors.Is(sendErr, context.Canceled) {
		err = sendErr
	}
	return err
}
