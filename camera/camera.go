/*Package camera describes the line camera that records probe shots.

The digitizer driver is not part of tascan; it is consumed through the
Acquirer interface, which returns one Block of raw counts per call.  A
Simulator is provided for tests and for running the whole stack without
hardware.

*/
package camera

import (
	"context"
	"errors"
	"fmt"
)

const (
	// DefaultPixels is the row width of the line camera, including the
	// leading status columns
	DefaultPixels = 1088

	// DefaultPumpColumn is the column that encodes the chopper/pump state
	DefaultPumpColumn = 2

	// DefaultPumpThreshold separates pump-off (below) from pump-on (at or above)
	DefaultPumpThreshold = 49152
)

// ErrShape is generated when a block's data does not match Shots*Pixels
var ErrShape = errors.New("block data length does not match shots*pixels")

// Block is all shots acquired for one delay point.  Data is row major,
// Shots rows of Pixels columns.
type Block struct {
	Shots  int
	Pixels int
	Data   []uint16
}

// NewBlock allocates a zeroed block
func NewBlock(shots, pixels int) Block {
	return Block{Shots: shots, Pixels: pixels, Data: make([]uint16, shots*pixels)}
}

// Row returns the i-th shot.  The slice aliases the block's storage
func (b Block) Row(i int) []uint16 {
	return b.Data[i*b.Pixels : (i+1)*b.Pixels]
}

// Validate returns ErrShape if the block is inconsistent
func (b Block) Validate() error {
	if b.Shots < 0 || b.Pixels <= 0 || len(b.Data) != b.Shots*b.Pixels {
		return fmt.Errorf("%w: %d shots x %d pixels, %d values", ErrShape, b.Shots, b.Pixels, len(b.Data))
	}
	return nil
}

// Acquirer returns raw shot blocks.  index is the running point counter of
// the caller and is only used by drivers for bookkeeping.
type Acquirer interface {
	AcquireBlock(ctx context.Context, shots, index int) (Block, error)
}

// AcquirerFunc adapts a plain function to the Acquirer interface
type AcquirerFunc func(ctx context.Context, shots, index int) (Block, error)

// AcquireBlock calls f
func (f AcquirerFunc) AcquireBlock(ctx context.Context, shots, index int) (Block, error) {
	return f(ctx, shots, index)
}
