package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

type mapState uint8

const (
	mapPending mapState = iota
	mapDone
	mapFailed
)

// mapRead maps a staging buffer, driving the device until the map callback
// fires, and returns a copy of the first size bytes.
func (b *Backend) mapRead(ctx context.Context, buf *wgpu.Buffer, size uint64) ([]byte, error) {
	var mu sync.Mutex
	state := mapPending
	var status wgpu.BufferMapAsyncStatus

	buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		mu.Lock()
		defer mu.Unlock()
		status = s
		if s == wgpu.BufferMapAsyncStatusSuccess {
			state = mapDone
		} else {
			state = mapFailed
		}
	})

	for {
		mu.Lock()
		st := state
		mu.Unlock()
		if st != mapPending {
			break
		}
		if err := ctx.Err(); err != nil {
			// Unmap aborts the pending map request.
			buf.Unmap()
			return nil, err
		}
		b.Device.Poll(true, nil)
	}

	mu.Lock()
	defer mu.Unlock()
	if state == mapFailed {
		return nil, fmt.Errorf("gpu: map readback buffer: status %v", status)
	}
	data := buf.GetMappedRange(0, uint(size))
	out := append([]byte(nil), data...)
	buf.Unmap()
	return out, nil
}
